package connector

import (
	"strconv"
	"strings"

	"github.com/PulseAIShared/pulse-engine/customer"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Vars is the fixed variable namespace message templates render
// against. Only customer.* and signal.* variables exist; rendering is
// pure string substitution with no code execution.
type Vars map[string]string

// BuildVars assembles the variable namespace for one run. Monetary
// amounts render in major units with two decimals so templates read
// naturally in messages.
func BuildVars(cust *customer.Context, sig *signal.Signal) Vars {
	v := Vars{}
	if cust != nil {
		v["customer.id"] = cust.ID.String()
		v["customer.name"] = cust.Name
		v["customer.email"] = cust.Email
		v["customer.mrr"] = formatMinor(cust.MRR)
		v["customer.potential_value"] = formatMinor(cust.PotentialValue)
		v["customer.currency"] = cust.Currency
		v["customer.owner_id"] = cust.OwnerID
	}
	if sig != nil {
		v["signal.id"] = sig.ID.String()
		v["signal.type"] = sig.Type
		v["signal.amount"] = formatMinor(sig.Amount)
		v["signal.mrr"] = formatMinor(sig.MRR)
		v["signal.currency"] = sig.Currency
		v["signal.days_inactive"] = strconv.Itoa(sig.DaysInactive)
		v["signal.days_overdue"] = strconv.Itoa(sig.DaysOverdue)
		v["signal.confidence"] = sig.Confidence.String()
	}
	return v
}

// Render substitutes {{var}} placeholders in s from the namespace.
// Unknown variables are left intact so a typo in a template is visible
// in the delivered message rather than silently dropped.
func Render(s string, vars Vars) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for {
		open := strings.Index(s, "{{")
		if open < 0 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[open:], "}}")
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += open

		b.WriteString(s[:open])
		name := strings.TrimSpace(s[open+2 : end])
		if val, ok := vars[name]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(s[open : end+2])
		}
		s = s[end+2:]
	}
	return b.String()
}

// formatMinor renders a minor-unit amount as major units, e.g. 12050
// becomes "120.50".
func formatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + strconv.FormatInt(v/100, 10) + "." + pad2(v%100)
}

func pad2(v int64) string {
	if v < 10 {
		return "0" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}
