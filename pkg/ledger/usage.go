package ledger

import "mercator-hq/costgate/pkg/ledger/storage"

// Usage is a quantity of consumption: input units, output units and cost.
type Usage struct {
	InputUnits  int64
	OutputUnits int64
	Cost        float64
}

// Add returns the component-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputUnits:  u.InputUnits + o.InputUnits,
		OutputUnits: u.OutputUnits + o.OutputUnits,
		Cost:        u.Cost + o.Cost,
	}
}

// Sub returns u minus o with every field floored at zero.
func (u Usage) Sub(o Usage) Usage {
	return Usage{
		InputUnits:  max(0, u.InputUnits-o.InputUnits),
		OutputUnits: max(0, u.OutputUnits-o.OutputUnits),
		Cost:        max(0, u.Cost-o.Cost),
	}
}

// Units returns input plus output units.
func (u Usage) Units() int64 {
	return u.InputUnits + u.OutputUnits
}

// IsZero reports whether every field is zero.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

func (u Usage) record() storage.UsageRecord {
	return storage.UsageRecord{
		InputUnits:  u.InputUnits,
		OutputUnits: u.OutputUnits,
		Cost:        u.Cost,
	}
}

func usageFromRecord(r storage.UsageRecord) Usage {
	return Usage{
		InputUnits:  max(0, r.InputUnits),
		OutputUnits: max(0, r.OutputUnits),
		Cost:        max(0, r.Cost),
	}
}

// clamp floors every field at zero.
func (u Usage) clamp() Usage {
	return u.Sub(Usage{})
}
