package render

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// IsKeyframe reports whether an Annex-B access unit carries an IDR slice.
func IsKeyframe(data []byte) bool {
	var ab h264.AnnexB
	if ab.Unmarshal(data) != nil {
		return false
	}
	for _, n := range ab {
		if len(n) > 0 && h264.NALUType(n[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}
