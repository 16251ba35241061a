package measurementRepository

const (
	queryCreateMeasurement = `
		INSERT INTO measurements (
			id,
			request_id,
			image_sha256,
			image_width,
			image_height,
			status,
			pd_total_mm,
			response,
			image_url,
			created_at
		) VALUES (
			:id,
			:request_id,
			:image_sha256,
			:image_width,
			:image_height,
			:status,
			:pd_total_mm,
			:response,
			:image_url,
			:created_at
		)
	`

	queryGetMeasurementByID = `
		SELECT
			id,
			request_id,
			image_sha256,
			image_width,
			image_height,
			status,
			pd_total_mm,
			response,
			image_url,
			created_at
		FROM measurements
		WHERE id = :id
	`

	queryListMeasurements = `
		SELECT
			id,
			request_id,
			image_sha256,
			image_width,
			image_height,
			status,
			pd_total_mm,
			response,
			image_url,
			created_at
		FROM measurements
		ORDER BY created_at DESC, id DESC
		LIMIT :limit OFFSET :offset
	`

	queryCountMeasurements = `
		SELECT COUNT(*) FROM measurements
	`

	queryDeleteMeasurement = `
		DELETE FROM measurements
		WHERE id = :id
	`
)
