package asterix

import (
	"strconv"
	"strings"

	bencherrors "github.com/23skdu/annbench/internal/errors"
)

// InferDimension reads the vector dimension from a dataset name such as
// "fashion-mnist-784-euclidean". The first purely numeric hyphen-separated
// token wins, even when later tokens are numeric too.
func InferDimension(dataset string) (int, error) {
	for _, tok := range strings.Split(dataset, "-") {
		if !isDigits(tok) {
			continue
		}
		dim, err := strconv.Atoi(tok)
		if err != nil {
			return 0, bencherrors.WrapPreconditionError(err, "infer_dimension", "dimension token out of range").
				WithContext("dataset", dataset)
		}
		return dim, nil
	}
	return 0, bencherrors.NewPreconditionError("infer_dimension", "cannot infer dimension from dataset name").
		WithContext("dataset", dataset)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
