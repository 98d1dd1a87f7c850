/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package detect

// SsdPostProcessing decodes models with built-in post-processing: boxes
// (ymin, xmin, ymax, xmax, normalized), classes, scores and an optional count.
// Some exports drop the classes tensor; their candidates carry no class.
type SsdPostProcessing struct {
	ScaleX float64
	ScaleY float64
}

func (p SsdPostProcessing) Extract(outputs []Tensor, scoreTh float32) ([]Candidate, error) {
	if len(outputs) < 2 {
		return nil, ErrNoOutput
	}

	l := outputs[0].Data
	var c, s []float32
	if len(outputs) > 2 {
		c, s = outputs[1].Data, outputs[2].Data
	} else {
		s = outputs[1].Data
	}

	count := min(len(l)/4, len(s))
	if c != nil {
		count = min(count, len(c))
	}
	if len(outputs) > 3 && len(outputs[3].Data) > 0 {
		count = min(count, int(outputs[3].Data[0]))
	}

	sx, sy := scale(p.ScaleX), scale(p.ScaleY)
	var candidates []Candidate
	for idx := 0; idx < count; idx++ {
		if s[idx] <= scoreTh {
			continue
		}
		cand := Candidate{
			Box: Box{
				X1: float64(l[4*idx+1]) * sx,
				Y1: float64(l[4*idx]) * sy,
				X2: float64(l[4*idx+3]) * sx,
				Y2: float64(l[4*idx+2]) * sy,
			},
			Score: s[idx],
		}
		if c != nil {
			cand.Class, cand.HasClass = int(c[idx]), true
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}
