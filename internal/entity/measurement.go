package entity

import "time"

type Measurement struct {
	ID          string    `db:"id"`
	RequestID   string    `db:"request_id"`
	ImageSHA256 string    `db:"image_sha256"`
	ImageWidth  int       `db:"image_width"`
	ImageHeight int       `db:"image_height"`
	Status      string    `db:"status"`
	PDTotalMM   *float64  `db:"pd_total_mm"`
	Response    []byte    `db:"response"`
	ImageURL    string    `db:"image_url"`
	CreatedAt   time.Time `db:"created_at"`
}

type OperatorLoginData struct {
	ID       string
	Username string
}
