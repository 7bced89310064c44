// Package planparser lifts [PLAN]...[/PLAN] blocks out of agent text and
// converts them into plan.Plan values, resolving "Step N" textual
// references into the UUIDs assigned to each step.
package planparser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/davidkarpay/agentrt/internal/plan"
	"github.com/davidkarpay/agentrt/internal/toolexec"
)

var (
	headerRe       = regexp.MustCompile(`(?m)^##\s*Workflow:\s*(.+)$`)
	stepHeaderRe   = regexp.MustCompile(`(?m)^###\s*Step\s+(\d+):\s*(.+)$`)
	agentRe        = regexp.MustCompile(`(?m)^-\s*Agent:\s*(.+)$`)
	toolRe         = regexp.MustCompile(`(?m)^-\s*Tool:\s*(.+)$`)
	argumentsRe    = regexp.MustCompile(`(?ms)^-\s*Arguments:\s*(\{.*?\})\s*$`)
	dependenciesRe = regexp.MustCompile(`(?m)^-\s*Dependencies:\s*(.+)$`)
	estimatedRe    = regexp.MustCompile(`(?m)^-\s*Estimated Time:\s*(\d+)([smh])$`)
	totalTimeRe    = regexp.MustCompile(`(?m)^##\s*Total Estimated Time:\s*(\d+)([smh])$`)
	costRe         = regexp.MustCompile(`(?m)^##\s*Cost Estimate:\s*\$([0-9.]+)$`)
	stepNRefRe     = regexp.MustCompile(`Step\s+(\d+)`)
)

// Parse scans text for the first [PLAN]...[/PLAN] block and returns the
// parsed plan. It returns (nil, false) if no block is present or the body
// does not satisfy the grammar — malformedness is not an exception.
func Parse(text string) (*plan.Plan, bool) {
	start := strings.Index(text, "[PLAN]")
	if start == -1 {
		return nil, false
	}
	end := strings.Index(text[start:], "[/PLAN]")
	if end == -1 {
		return nil, false
	}
	body := text[start+len("[PLAN]") : start+end]

	headerMatch := headerRe.FindStringSubmatchIndex(body)
	if headerMatch == nil {
		return nil, false
	}
	name := strings.TrimSpace(body[headerMatch[2]:headerMatch[3]])

	stepMatches := stepHeaderRe.FindAllStringSubmatchIndex(body, -1)
	if len(stepMatches) == 0 {
		return nil, false
	}

	description := strings.TrimSpace(body[headerMatch[1]:stepMatches[0][0]])

	// Pass 1: assign a fresh UUID and numeric index to each step.
	type rawStep struct {
		n    int
		text string
	}
	var raws []rawStep
	for i, m := range stepMatches {
		segStart := m[0]
		segEnd := len(body)
		if i+1 < len(stepMatches) {
			segEnd = stepMatches[i+1][0]
		}
		n, err := strconv.Atoi(body[m[2]:m[3]])
		if err != nil {
			return nil, false
		}
		raws = append(raws, rawStep{n: n, text: body[segStart:segEnd]})
	}

	numberToID := make(map[int]string, len(raws))
	for _, r := range raws {
		numberToID[r.n] = uuid.NewString()
	}

	p := plan.New(name, description)

	for orderHint, r := range raws {
		descMatch := stepHeaderRe.FindStringSubmatch(r.text)
		stepDesc := ""
		if len(descMatch) == 3 {
			stepDesc = strings.TrimSpace(descMatch[2])
		}

		agentMatch := agentRe.FindStringSubmatch(r.text)
		toolMatch := toolRe.FindStringSubmatch(r.text)
		argsMatch := argumentsRe.FindStringSubmatch(r.text)
		if agentMatch == nil || toolMatch == nil || argsMatch == nil {
			return nil, false
		}

		var args map[string]interface{}
		if err := json.Unmarshal([]byte(argsMatch[1]), &args); err != nil {
			return nil, false
		}

		// Pass 2: resolve "Step N" references into the UUID assigned in pass 1.
		var deps []string
		if depMatch := dependenciesRe.FindStringSubmatch(r.text); depMatch != nil {
			raw := strings.TrimSpace(depMatch[1])
			if !strings.EqualFold(raw, "none") {
				for _, refMatch := range stepNRefRe.FindAllStringSubmatch(raw, -1) {
					n, err := strconv.Atoi(refMatch[1])
					if err != nil {
						continue
					}
					if id, ok := numberToID[n]; ok {
						deps = append(deps, id)
					}
				}
			}
		}

		estimatedSeconds := 0
		if estMatch := estimatedRe.FindStringSubmatch(r.text); estMatch != nil {
			estimatedSeconds = durationSeconds(estMatch[1], estMatch[2])
		}

		p.Steps = append(p.Steps, &plan.Step{
			ID:               numberToID[r.n],
			OrderHint:        orderHint,
			Description:      stepDesc,
			AgentID:          strings.TrimSpace(agentMatch[1]),
			Tool:             toolexec.Spec(strings.TrimSpace(toolMatch[1])),
			Arguments:        args,
			Dependencies:     deps,
			EstimatedSeconds: estimatedSeconds,
			Status:           plan.StepPending,
		})
	}

	return p, true
}

func durationSeconds(digits, unit string) int {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	switch unit {
	case "m":
		return n * 60
	case "h":
		return n * 3600
	default:
		return n
	}
}

// TotalEstimatedSeconds and CostEstimate parse the plan's optional totals
// section, exposed separately since plan.Plan derives these from its
// steps rather than trusting the agent's stated totals.
func TotalEstimatedSeconds(text string) (int, bool) {
	m := totalTimeRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return durationSeconds(m[1], m[2]), true
}

func CostEstimate(text string) (float64, bool) {
	m := costRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
