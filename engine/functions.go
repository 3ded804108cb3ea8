package engine

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"sync"

	sqlite "modernc.org/sqlite"
)

var registerFunctionsOnce sync.Once

// RegisterInventoryFunctions registers stock_deficit and below_minimum with
// the driver so they are available on new connections opened after this
// call. Open calls it, so callers rarely need to.
//
//	stock_deficit(count, minimum)  -> how many items are missing, 0 when stocked
//	below_minimum(count, minimum)  -> 1 when count < minimum, else 0
//
// Both return NULL when either argument is NULL, so rows written before an
// item column existed are not reported.
func RegisterInventoryFunctions() {
	registerFunctionsOnce.Do(func() {
		// The driver rejects duplicate names; a second registration is harmless.
		_ = sqlite.RegisterDeterministicScalarFunction("stock_deficit", 2, stockDeficitImpl)
		_ = sqlite.RegisterDeterministicScalarFunction("below_minimum", 2, belowMinimumImpl)
	})
}

func asCount(name string, arg driver.Value) (int64, bool, error) {
	switch v := arg.(type) {
	case nil:
		return 0, false, nil
	case int64:
		return v, true, nil
	case float64:
		return int64(v), true, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %q is not an integer", name, v)
		}
		return n, true, nil
	case []byte:
		return asCount(name, string(v))
	default:
		return 0, false, fmt.Errorf("%s: unsupported argument type %T; want INTEGER", name, arg)
	}
}

func countArgs(name string, args []driver.Value) (count, minimum int64, ok bool, err error) {
	if len(args) != 2 {
		return 0, 0, false, fmt.Errorf("%s: expected 2 arguments, got %d", name, len(args))
	}
	count, okCount, err := asCount(name, args[0])
	if err != nil {
		return 0, 0, false, err
	}
	minimum, okMin, err := asCount(name, args[1])
	if err != nil {
		return 0, 0, false, err
	}
	return count, minimum, okCount && okMin, nil
}

func stockDeficitImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	count, minimum, ok, err := countArgs("stock_deficit", args)
	if err != nil || !ok {
		return nil, err
	}
	if count >= minimum {
		return int64(0), nil
	}
	return minimum - count, nil
}

func belowMinimumImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	count, minimum, ok, err := countArgs("below_minimum", args)
	if err != nil || !ok {
		return nil, err
	}
	if count < minimum {
		return int64(1), nil
	}
	return int64(0), nil
}
