// Package health defines the plaintext health metrics a client submits and
// reads back after decryption.
package health

import "fmt"

// Field identifies one of the encrypted metrics. The order is fixed and is the
// order handles are stored on the ledger.
type Field int

const (
	Height Field = iota
	Weight
	Age
	Gender
	Systolic
	Diastolic

	NumFields = 6
)

var fieldNames = [NumFields]string{"height", "weight", "age", "gender", "systolic", "diastolic"}

func (f Field) String() string {
	if f < 0 || int(f) >= NumFields {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Metrics holds height in cm, weight in kg, age in years, gender (1 male,
// 2 female) and blood pressure in mmHg.
type Metrics struct {
	Height    int64 `json:"height"`
	Weight    int64 `json:"weight"`
	Age       int64 `json:"age"`
	Gender    int64 `json:"gender"`
	Systolic  int64 `json:"systolic"`
	Diastolic int64 `json:"diastolic"`
}

// Values returns the metrics in Field order.
func (m Metrics) Values() [NumFields]int64 {
	return [NumFields]int64{m.Height, m.Weight, m.Age, m.Gender, m.Systolic, m.Diastolic}
}

func MetricsFromValues(v [NumFields]int64) Metrics {
	return Metrics{
		Height:    v[Height],
		Weight:    v[Weight],
		Age:       v[Age],
		Gender:    v[Gender],
		Systolic:  v[Systolic],
		Diastolic: v[Diastolic],
	}
}

// Decrypted is the plaintext view of a stored record.
type Decrypted struct {
	Metrics
	UpdatedAt uint64 `json:"updatedAt"`
}
