// Package model_selection provides train/test partitioning of feature
// matrices with optional stratification and a fixed random seed.
package model_selection

import (
	"math"
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// SplitOptions configures TrainTestSplit.
type SplitOptions struct {
	// TestSize is the fraction of samples placed in the test set, in (0, 1).
	TestSize float64
	// RandomState seeds the shuffle. Identical inputs and seed give identical partitions.
	RandomState int64
	// Stratify keeps the class proportions of y in both partitions.
	Stratify bool
}

// SplitResult holds both partitions and the row indices they were drawn from.
type SplitResult struct {
	XTrain, XTest *mat.Dense
	YTrain, YTest []int

	TrainIndex, TestIndex []int

	Stratified bool
}

// SplitSizes returns (nTrain, nTest) for n samples, with nTest = ceil(testSize*n).
func SplitSizes(n int, testSize float64) (nTrain, nTest int, err error) {
	if math.IsNaN(testSize) || testSize <= 0 || testSize >= 1 {
		return 0, 0, errors.Wrapf(errors.ErrInvalidSplitFraction, "test_size=%v should be strictly between 0 and 1", testSize)
	}
	nTest = int(math.Ceil(testSize * float64(n)))
	nTrain = n - nTest
	if nTest == 0 || nTrain <= 0 {
		return 0, 0, errors.Wrapf(errors.ErrInvalidSplitFraction,
			"with n_samples=%d and test_size=%v the resulting train set would be empty", n, testSize)
	}
	return nTrain, nTest, nil
}

// TrainTestSplit partitions the rows of X and y into train and test sets.
func TrainTestSplit(X mat.Matrix, y []int, opts SplitOptions) (*SplitResult, error) {
	n, c := X.Dims()
	if n == 0 || c == 0 {
		return nil, errors.NewModelError("TrainTestSplit", "empty data", errors.ErrEmptyData)
	}
	if len(y) != n {
		return nil, errors.NewDimensionError("TrainTestSplit", n, len(y), 0)
	}
	nTrain, nTest, err := SplitSizes(n, opts.TestSize)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(opts.RandomState))

	var train, test []int
	if opts.Stratify {
		train, test, err = stratifiedIndices(y, nTrain, nTest, rng)
		if err != nil {
			return nil, err
		}
	} else {
		perm := rng.Perm(n)
		test = perm[:nTest]
		train = perm[nTest:]
	}

	return &SplitResult{
		XTrain:     takeRows(X, train),
		XTest:      takeRows(X, test),
		YTrain:     takeLabels(y, train),
		YTest:      takeLabels(y, test),
		TrainIndex: train,
		TestIndex:  test,
		Stratified: opts.Stratify,
	}, nil
}

// CanStratify reports whether every class in y has at least two members and
// there are at least two classes.
func CanStratify(y []int) bool {
	counts := classCounts(y)
	if len(counts) < 2 {
		return false
	}
	for _, c := range counts {
		if c < 2 {
			return false
		}
	}
	return true
}

func classCounts(y []int) map[int]int {
	counts := make(map[int]int)
	for _, v := range y {
		counts[v]++
	}
	return counts
}

func stratifiedIndices(y []int, nTrain, nTest int, rng *rand.Rand) (train, test []int, err error) {
	counts := classCounts(y)
	classes := make([]int, 0, len(counts))
	for c, cnt := range counts {
		if cnt < 2 {
			return nil, nil, errors.NewValueError("TrainTestSplit",
				"the least populated class in y has only 1 member, which is too few to stratify")
		}
		classes = append(classes, c)
	}
	sort.Ints(classes)

	if nTest < len(classes) || nTrain < len(classes) {
		return nil, nil, errors.Wrapf(errors.ErrInvalidSplitFraction,
			"train size %d and test size %d should each be at least the number of classes %d",
			nTrain, nTest, len(classes))
	}

	alloc := allocateTest(classes, counts, len(y), nTest)

	members := make(map[int][]int, len(classes))
	for i, v := range y {
		members[v] = append(members[v], i)
	}

	for _, c := range classes {
		idx := members[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		test = append(test, idx[:alloc[c]]...)
		train = append(train, idx[alloc[c]:]...)
	}
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	return train, test, nil
}

// allocateTest distributes nTest across classes proportionally, using the
// largest remainder method. Ties go to the larger class, then the smaller label.
// Every class keeps at least one training sample; callers guarantee
// nTest <= n - len(classes).
func allocateTest(classes []int, counts map[int]int, n, nTest int) map[int]int {
	type share struct {
		class     int
		count     int
		remainder float64
	}
	alloc := make(map[int]int, len(classes))
	shares := make([]share, 0, len(classes))
	assigned := 0
	for _, c := range classes {
		exact := float64(counts[c]) * float64(nTest) / float64(n)
		base := int(math.Floor(exact))
		alloc[c] = base
		assigned += base
		shares = append(shares, share{class: c, count: counts[c], remainder: exact - float64(base)})
	}
	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].remainder != shares[j].remainder {
			return shares[i].remainder > shares[j].remainder
		}
		if shares[i].count != shares[j].count {
			return shares[i].count > shares[j].count
		}
		return shares[i].class < shares[j].class
	})
	for i := 0; assigned < nTest; i = (i + 1) % len(shares) {
		c := shares[i].class
		if alloc[c] < counts[c]-1 {
			alloc[c]++
			assigned++
		}
	}
	return alloc
}

func takeRows(X mat.Matrix, idx []int) *mat.Dense {
	_, c := X.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, r := range idx {
		for j := 0; j < c; j++ {
			out.Set(i, j, X.At(r, j))
		}
	}
	return out
}

func takeLabels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, r := range idx {
		out[i] = y[r]
	}
	return out
}
