package planparser

import "testing"

const samplePlan = `Here is my plan.
[PLAN]
## Workflow: migrate config
Move settings into the new schema.
### Step 1: read the existing config
- Agent: main
- Tool: read_file_tool
- Arguments: {"path": "./config.toml"}
- Dependencies: none
- Estimated Time: 5s
### Step 2: write the new config
- Agent: implementer
- Tool: write_file_tool
- Arguments: {"path": "./config.new.toml", "content": "x"}
- Dependencies: Step 1
- Estimated Time: 10s
## Total Estimated Time: 15s
## Cost Estimate: $0.02
[/PLAN]
Thanks.`

func TestParse_ResolvesStepDependencies(t *testing.T) {
	p, ok := Parse(samplePlan)
	if !ok {
		t.Fatal("expected plan to parse")
	}
	if p.Name != "migrate config" {
		t.Fatalf("got name %q", p.Name)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("got %d steps", len(p.Steps))
	}
	first, second := p.Steps[0], p.Steps[1]
	if len(second.Dependencies) != 1 || second.Dependencies[0] != first.ID {
		t.Fatalf("step 2 dependency not resolved to step 1's uuid: %+v", second.Dependencies)
	}
	if first.EstimatedSeconds != 5 || second.EstimatedSeconds != 10 {
		t.Fatalf("bad duration parse: %d %d", first.EstimatedSeconds, second.EstimatedSeconds)
	}
	if first.Arguments["path"] != "./config.toml" {
		t.Fatalf("bad arguments: %+v", first.Arguments)
	}
}

func TestParse_TotalsSection(t *testing.T) {
	seconds, ok := TotalEstimatedSeconds(samplePlan)
	if !ok || seconds != 15 {
		t.Fatalf("got %d, %v", seconds, ok)
	}
	cost, ok := CostEstimate(samplePlan)
	if !ok || cost != 0.02 {
		t.Fatalf("got %v, %v", cost, ok)
	}
}

func TestParse_NoBlockReturnsFalse(t *testing.T) {
	if _, ok := Parse("just a normal response, no plan here"); ok {
		t.Fatal("expected no plan to be found")
	}
}

func TestParse_MalformedStepMissingToolReturnsFalse(t *testing.T) {
	text := `[PLAN]
## Workflow: broken
### Step 1: do a thing
- Agent: main
- Arguments: {}
[/PLAN]`
	if _, ok := Parse(text); ok {
		t.Fatal("expected malformed plan (missing Tool) to fail to parse")
	}
}

func TestParse_DurationUnits(t *testing.T) {
	if got := durationSeconds("2", "m"); got != 120 {
		t.Fatalf("got %d", got)
	}
	if got := durationSeconds("1", "h"); got != 3600 {
		t.Fatalf("got %d", got)
	}
	if got := durationSeconds("30", "s"); got != 30 {
		t.Fatalf("got %d", got)
	}
}
