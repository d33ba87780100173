package router

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"realtimechat/model"
)

func TestArgHelpers(t *testing.T) {
	args := []any{"conv", float64(1700000000000), "25", map[string]any{"attachment_ref": "attachments/a/h"}}

	assert.Equal(t, "conv", argString(args, 0))
	assert.Equal(t, "1700000000000", argString(args, 1))
	assert.Equal(t, "", argString(args, 9))

	assert.Equal(t, int64(1700000000000), argInt(args, 1, 0))
	assert.Equal(t, int64(25), argInt(args, 2, 0))
	assert.Equal(t, int64(7), argInt(args, 0, 7))

	huge := []any{float64(1e300), float64(-1e300), math.Inf(1), math.NaN(), float64(math.MaxInt64)}
	assert.Equal(t, int64(math.MaxInt64), argInt(huge, 0, 0))
	assert.Equal(t, int64(math.MinInt64), argInt(huge, 1, 0))
	assert.Equal(t, int64(math.MaxInt64), argInt(huge, 2, 0))
	assert.Equal(t, int64(9), argInt(huge, 3, 9))
	assert.Equal(t, int64(math.MaxInt64), argInt(huge, 4, 0))

	assert.Equal(t, model.TextBody("conv"), argBody(args, 0))
	assert.Equal(t, model.AttachmentBody("attachments/a/h"), argBody(args, 3))
	assert.Equal(t, model.Body{}, argBody(args, 1))
}
