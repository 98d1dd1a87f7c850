/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package detect

import (
	"fmt"

	"go.uber.org/zap"
)

// YoloPostProcessing decodes YOLO exports in either the v5 or the transposed
// v8 layout. Outputs that cannot be read, such as the raw grid heads of older
// v5 exports, are skipped.
type YoloPostProcessing struct {
	Layout Layout
	ScaleX float64
	ScaleY float64
	Logger *zap.Logger
}

func (p YoloPostProcessing) Extract(outputs []Tensor, scoreTh float32) ([]Candidate, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutput
	}
	var (
		candidates []Candidate
		firstErr   error
		decoded    int
	)
	for idx, output := range outputs {
		c, err := p.extractBoxesTensor(output, scoreTh)
		if err != nil {
			err = fmt.Errorf("output %d: %w", idx, err)
			if firstErr == nil {
				firstErr = err
			}
			if p.Logger != nil {
				p.Logger.Debug("skip output", zap.Int("index", idx), zap.Ints("shape", output.Shape), zap.Error(err))
			}
			continue
		}
		decoded++
		candidates = append(candidates, c...)
	}
	if decoded == 0 {
		return nil, firstErr
	}
	return candidates, nil
}

// resolve picks the layout for a squeezed 2-dim shape. A v8 export has far
// fewer rows (4+classes) than columns (anchors); a shape too narrow for v8
// is read as v5.
func (p YoloPostProcessing) resolve(dims []int) Layout {
	if p.Layout != LayoutAuto && p.Layout != "" {
		return p.Layout
	}
	if dims[0] < dims[1] && dims[0] >= 5 {
		return LayoutV8
	}
	return LayoutV5
}

func (p YoloPostProcessing) extractBoxesTensor(output Tensor, scoreTh float32) ([]Candidate, error) {
	if output.size() != len(output.Data) {
		return nil, fmt.Errorf("shape %v does not match %d values", output.Shape, len(output.Data))
	}
	dims := output.dims()
	if len(dims) != 2 {
		return nil, fmt.Errorf("%w: shape %v", ErrUnknownLayout, output.Shape)
	}
	sx, sy := scale(p.ScaleX), scale(p.ScaleY)
	loc := output.Data

	var candidates []Candidate
	switch p.resolve(dims) {
	case LayoutV5:
		rows, cols := dims[0], dims[1]
		if cols < 6 {
			return nil, fmt.Errorf("%w: v5 row of %d values", ErrUnknownLayout, cols)
		}
		for i := 0; i < rows; i++ {
			idx := i * cols
			obj := loc[idx+4]
			if obj <= scoreTh {
				continue
			}
			classID, cls := argmax(loc[idx+5 : idx+cols])
			score := obj * cls
			if score <= scoreTh {
				continue
			}
			candidates = append(candidates, Candidate{
				Box:      centerBox(loc[idx], loc[idx+1], loc[idx+2], loc[idx+3], sx, sy),
				Score:    score,
				Class:    classID,
				HasClass: true,
			})
		}
	case LayoutV8:
		feats, n := dims[0], dims[1]
		if feats < 5 {
			return nil, fmt.Errorf("%w: v8 column of %d values", ErrUnknownLayout, feats)
		}
		for j := 0; j < n; j++ {
			classID, score := 0, loc[4*n+j]
			for k := 5; k < feats; k++ {
				if v := loc[k*n+j]; v > score {
					classID, score = k-4, v
				}
			}
			if score <= scoreTh {
				continue
			}
			candidates = append(candidates, Candidate{
				Box:      centerBox(loc[j], loc[n+j], loc[2*n+j], loc[3*n+j], sx, sy),
				Score:    score,
				Class:    classID,
				HasClass: true,
			})
		}
	default:
		return nil, fmt.Errorf("%w: %q is not a yolo layout", ErrUnknownLayout, p.Layout)
	}
	return candidates, nil
}
