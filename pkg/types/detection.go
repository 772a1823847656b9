package types

// Box is an axis-aligned bounding box in pixel coordinates (x1,y1 top-left,
// x2,y2 bottom-right)
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Detection is one object reported by the inference engine for a frame
type Detection struct {
	Label      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}
