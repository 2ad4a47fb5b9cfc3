package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yeisme/dedupvault/pkg/internal/model"
)

func TestClassifyCategory(t *testing.T) {
	cases := []struct {
		contentType, filename string
		want                  model.Category
	}{
		{"image/png", "a.bin", model.CategoryImage},
		{"IMAGE/JPEG; charset=binary", "a", model.CategoryImage},
		{"application/pdf", "photo.jpg", model.CategoryDocument},
		{"", "photo.JPG", model.CategoryImage},
		{"application/octet-stream", "scan.tiff", model.CategoryImage},
		{"", "notes.txt", model.CategoryDocument},
		{"", "noext", model.CategoryDocument},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, model.ClassifyCategory(c.contentType, c.filename), "%s %s", c.contentType, c.filename)
	}
}

func TestJobStatus(t *testing.T) {
	assert.True(t, model.JobStatusCompleted.Terminal())
	assert.True(t, model.JobStatusFailed.Terminal())
	assert.False(t, model.JobStatusProcessing.Terminal())
	assert.False(t, model.JobStatus("archived").Valid())
}

func TestClusterStateAssigned(t *testing.T) {
	assert.False(t, model.ClusterStatePendingDecision.Assigned())
	assert.True(t, model.ClusterStateJoined.Assigned())
	assert.True(t, model.ClusterStateDuplicate.Assigned())
}
