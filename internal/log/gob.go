package log

import "encoding/gob"

// apiv1.Metadata values are `any`, so gob needs every concrete scalar
// type that can appear in one registered up front.
func init() {
	gob.Register("")
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
}
