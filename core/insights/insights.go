// Package insights derives BMI and blood-pressure categories from decrypted
// metrics. It runs only on the client and has no failure modes.
package insights

import "healthcoach/core/health"

type BMICategory string

const (
	Underweight BMICategory = "Underweight"
	Healthy     BMICategory = "Healthy"
	Overweight  BMICategory = "Overweight"
	Obesity     BMICategory = "Obesity"
)

type PressureCategory string

const (
	Normal             PressureCategory = "Normal"
	Elevated           PressureCategory = "Elevated"
	Stage1Hypertension PressureCategory = "Stage 1 Hypertension"
	Stage2Hypertension PressureCategory = "Stage 2 Hypertension"
	HypertensiveCrisis PressureCategory = "Hypertensive Crisis"
)

var bmiAdvice = map[BMICategory]string{
	Underweight: "Consider increasing calorie intake with nutrient-dense foods and strength training.",
	Healthy:     "Maintain your current lifestyle with balanced nutrition and regular activity.",
	Overweight:  "Introduce consistent physical activity and focus on whole foods for steady progress.",
	Obesity:     "Work with a healthcare professional to develop a targeted nutrition and exercise plan.",
}

var pressureAdvice = map[PressureCategory]string{
	Normal:             "Great job! Maintain healthy habits and regular check-ups.",
	Elevated:           "Monitor regularly and consider moderating sodium and caffeine intake.",
	Stage1Hypertension: "Increase aerobic activity, manage stress, and follow your care plan.",
	Stage2Hypertension: "Consult your doctor for medication review and adhere to a low-sodium diet.",
	HypertensiveCrisis: "Seek medical attention immediately and monitor readings closely.",
}

func (c BMICategory) Advice() string      { return bmiAdvice[c] }
func (c PressureCategory) Advice() string { return pressureAdvice[c] }

type Insights struct {
	BMI              float64          `json:"bmi"`
	BMICategory      BMICategory      `json:"bmiCategory"`
	BMIAdvice        string           `json:"bmiAdvice"`
	PressureCategory PressureCategory `json:"pressureCategory"`
	PressureAdvice   string           `json:"pressureAdvice"`
	Gender           string           `json:"gender"`
}

// BMI is weight / height² with height in metres. A non-positive height gives 0.
func BMI(heightCm, weightKg float64) float64 {
	if heightCm <= 0 {
		return 0
	}
	m := heightCm / 100
	return weightKg / (m * m)
}

func ClassifyBMI(bmi float64) BMICategory {
	switch {
	case bmi < 18.5:
		return Underweight
	case bmi < 25:
		return Healthy
	case bmi < 30:
		return Overweight
	default:
		return Obesity
	}
}

// ClassifyPressure applies the staging rules top-down; the first match wins.
func ClassifyPressure(systolic, diastolic int64) PressureCategory {
	switch {
	case systolic >= 180 || diastolic >= 120:
		return HypertensiveCrisis
	case systolic >= 140 || diastolic >= 90:
		return Stage2Hypertension
	case systolic >= 130 || diastolic >= 80:
		return Stage1Hypertension
	case systolic >= 120 && diastolic < 80:
		return Elevated
	default:
		return Normal
	}
}

func GenderLabel(g int64) string {
	switch g {
	case 1:
		return "Male"
	case 2:
		return "Female"
	default:
		return "Other"
	}
}

func Derive(m health.Metrics) Insights {
	bmi := BMI(float64(m.Height), float64(m.Weight))
	bc := ClassifyBMI(bmi)
	pc := ClassifyPressure(m.Systolic, m.Diastolic)
	return Insights{
		BMI:              bmi,
		BMICategory:      bc,
		BMIAdvice:        bc.Advice(),
		PressureCategory: pc,
		PressureAdvice:   pc.Advice(),
		Gender:           GenderLabel(m.Gender),
	}
}
