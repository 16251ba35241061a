package s3

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDisabledWithoutBucket(t *testing.T) {
	t.Setenv("AWS_BUCKET_NAME", "")

	client, err := New()
	require.NoError(t, err)
	require.Nil(t, client)
}

func TestImageKey(t *testing.T) {
	require.Equal(t, "measurements/01HZX3J6Q4.jpg", ImageKey("01HZX3J6Q4", "jpg"))
}

func TestExtractKeyFromS3Url(t *testing.T) {
	require.Equal(t, "measurements/abc.png",
		ExtractKeyFromS3Url("https://bucket.s3.ap-southeast-1.amazonaws.com/measurements/abc.png"))
	require.Equal(t, "measurements/abc.png", ExtractKeyFromS3Url("measurements/abc.png"))
}
