package trainer

import (
	"fmt"
	"strings"
)

// plyHeader returns a header-only PLY document standing in for a splat export.
func plyHeader(splats uint64) *strings.Reader {
	return strings.NewReader(fmt.Sprintf(
		"ply\nformat binary_little_endian 1.0\ncomment synthetic gaussian splat export\nelement vertex %d\nend_header\n",
		splats,
	))
}
