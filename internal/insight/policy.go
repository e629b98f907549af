package insight

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/sage/internal/model"
)

// schedState is the bookkeeping view a policy decides against.
type schedState struct {
	lastGeneration time.Time
	hasLast        bool
	totalLogs      int64
}

// policyDecision is what a policy evaluation yields: whether a snapshot
// is due now, and whether the baseline timestamp must first be seeded
// (time-based policies observing no prior generation).
type policyDecision struct {
	due          bool
	seedBaseline bool
}

// SchedulingPolicy decides when an insight snapshot is due. The three
// variants are everyUnit (fixed interval), periodically (named calendar
// period), and afterTotalLogs (cumulative log count). The interface is
// sealed; ParsePolicy is the only constructor path from configuration.
type SchedulingPolicy interface {
	fmt.Stringer
	evaluate(now time.Time, st schedState) (policyDecision, error)
}

// errUnsupportedSchedule reports a policy field that validated parsing
// did not catch. It degrades the decision to "not due", never a fault.
type errUnsupportedSchedule struct {
	field string
	value string
}

func (e errUnsupportedSchedule) Error() string {
	return fmt.Sprintf("unsupported %s %q", e.field, e.value)
}

// everyUnitPolicy fires once at least Amount Units have elapsed since the
// last generation. The first observed event seeds the baseline and never
// fires.
type everyUnitPolicy struct {
	amount int
	unit   model.TimeUnit
}

func (p everyUnitPolicy) String() string {
	return fmt.Sprintf("everyUnit(%d %s)", p.amount, p.unit)
}

func (p everyUnitPolicy) evaluate(now time.Time, st schedState) (policyDecision, error) {
	if !st.hasLast {
		return policyDecision{seedBaseline: true}, nil
	}
	elapsed, err := elapsedInUnits(st.lastGeneration, now, p.unit)
	if err != nil {
		return policyDecision{}, err
	}
	return policyDecision{due: elapsed >= int64(p.amount)}, nil
}

// elapsedInUnits measures how many whole units separate last from now.
// Wall time covers seconds through weeks; months and years compare
// calendar fields, ignoring day-of-month.
func elapsedInUnits(last, now time.Time, unit model.TimeUnit) (int64, error) {
	switch unit {
	case model.UnitSeconds:
		return int64(now.Sub(last) / time.Second), nil
	case model.UnitMinutes:
		return int64(now.Sub(last) / time.Minute), nil
	case model.UnitHours:
		return int64(now.Sub(last) / time.Hour), nil
	case model.UnitDays:
		return int64(now.Sub(last) / (24 * time.Hour)), nil
	case model.UnitWeeks:
		return int64(now.Sub(last) / (7 * 24 * time.Hour)), nil
	case model.UnitMonths:
		years := now.Year() - last.Year()
		months := int(now.Month()) - int(last.Month())
		return int64(years*12 + months), nil
	case model.UnitYears:
		return int64(now.Year() - last.Year()), nil
	default:
		return 0, errUnsupportedSchedule{field: "time unit", value: string(unit)}
	}
}

// periodicPolicy fires once the named period's day count has elapsed
// since the last generation, measured in wall days.
type periodicPolicy struct {
	period model.CalendarPeriod
}

func (p periodicPolicy) String() string {
	return fmt.Sprintf("periodically(%s)", p.period)
}

func (p periodicPolicy) evaluate(now time.Time, st schedState) (policyDecision, error) {
	if !st.hasLast {
		return policyDecision{seedBaseline: true}, nil
	}
	days, err := periodDays(p.period)
	if err != nil {
		return policyDecision{}, err
	}
	elapsedDays := int64(now.Sub(st.lastGeneration) / (24 * time.Hour))
	return policyDecision{due: elapsedDays >= days}, nil
}

func periodDays(period model.CalendarPeriod) (int64, error) {
	switch period {
	case model.PeriodDaily:
		return 1, nil
	case model.PeriodWeekly:
		return 7, nil
	case model.PeriodMonthly:
		return 30, nil
	case model.PeriodYearly:
		return 365, nil
	default:
		return 0, errUnsupportedSchedule{field: "period", value: string(period)}
	}
}

// totalLogsPolicy fires once the cumulative log count reaches the
// threshold. The counter is monotonic and never reset, so the policy
// keeps firing on every event past the threshold; resetting would change
// observable behavior and is deliberately not done.
type totalLogsPolicy struct {
	threshold int64
}

func (p totalLogsPolicy) String() string {
	return fmt.Sprintf("afterTotalLogs(%d)", p.threshold)
}

func (p totalLogsPolicy) evaluate(_ time.Time, st schedState) (policyDecision, error) {
	return policyDecision{due: st.totalLogs >= p.threshold}, nil
}

// disabledPolicy never fires. It is the degraded form a coordinator runs
// with when the configured frequency cannot be parsed.
type disabledPolicy struct{}

func (disabledPolicy) String() string { return "disabled" }

func (disabledPolicy) evaluate(time.Time, schedState) (policyDecision, error) {
	return policyDecision{}, nil
}

// DisabledPolicy returns the never-firing policy.
func DisabledPolicy() SchedulingPolicy { return disabledPolicy{} }

// ParsePolicy builds a SchedulingPolicy from the configuration surface.
// The frequency grammar depends on the frequency type: everyUnit takes
// "<amount> <unit>", periodically takes a period name, afterTotalLogs
// takes a positive integer.
func ParsePolicy(freqType model.FrequencyType, frequency string) (SchedulingPolicy, error) {
	raw := strings.TrimSpace(frequency)
	switch freqType {
	case model.FrequencyEveryUnit:
		fields := strings.Fields(raw)
		if len(fields) != 2 {
			return nil, fmt.Errorf("everyUnit frequency %q: want \"<amount> <unit>\"", frequency)
		}
		amount, err := strconv.Atoi(fields[0])
		if err != nil || amount < 1 {
			return nil, fmt.Errorf("everyUnit amount %q: want a positive integer", fields[0])
		}
		unit, ok := model.ParseTimeUnit(fields[1])
		if !ok {
			return nil, fmt.Errorf("everyUnit unit %q not recognized", fields[1])
		}
		return everyUnitPolicy{amount: amount, unit: unit}, nil

	case model.FrequencyPeriodically:
		period, ok := model.ParseCalendarPeriod(raw)
		if !ok {
			return nil, fmt.Errorf("period %q not recognized", frequency)
		}
		return periodicPolicy{period: period}, nil

	case model.FrequencyAfterTotalLogs:
		threshold, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || threshold < 1 {
			return nil, fmt.Errorf("afterTotalLogs threshold %q: want a positive integer", frequency)
		}
		return totalLogsPolicy{threshold: threshold}, nil

	default:
		return nil, fmt.Errorf("frequency type %q not recognized", freqType)
	}
}
