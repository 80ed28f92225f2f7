package expression

import (
	"testing"
)

func TestEvaluateEmptyExpression(t *testing.T) {
	eval := New()
	result, err := eval.Evaluate("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result {
		t.Error("empty expression should default to true")
	}
}

func TestEvaluateLoopPredicate(t *testing.T) {
	eval := New()
	ctx := map[string]interface{}{
		"pass": 3,
		"vars": map[string]string{"status": "done"},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`pass >= 3`, true},
		{`pass >= 5`, false},
		{`vars.status == "done"`, true},
		{`vars.status == "pending"`, false},
		{`vars.status == "done" or pass >= 10`, true},
		{`length(vars) > 0`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := eval.Evaluate(tt.expr, ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateUndefinedVariable(t *testing.T) {
	eval := New()
	// Undefined variables are allowed at compile time; absent vars compare
	// as nil at runtime.
	result, err := eval.Evaluate(`missing == nil`, map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result {
		t.Error("expected true for nil comparison of undefined variable")
	}
}

func TestEvaluateNonBooleanResult(t *testing.T) {
	eval := New()
	_, err := eval.Evaluate(`1 + 1`, nil)
	if err == nil {
		t.Fatal("expected error for non-boolean expression")
	}
}

func TestEvaluateSyntaxError(t *testing.T) {
	eval := New()
	_, err := eval.Evaluate(`pass >=`, map[string]interface{}{"pass": 1})
	if err == nil {
		t.Fatal("expected error for invalid syntax")
	}
}

func TestCompileCaching(t *testing.T) {
	eval := New()
	ctx := map[string]interface{}{"pass": 1}

	for i := 0; i < 3; i++ {
		if _, err := eval.Evaluate(`pass >= 1`, ctx); err != nil {
			t.Fatalf("evaluation %d failed: %v", i, err)
		}
	}

	eval.mu.RLock()
	defer eval.mu.RUnlock()
	if len(eval.cache) != 1 {
		t.Errorf("expected 1 cached program, got %d", len(eval.cache))
	}
}

func TestValidate(t *testing.T) {
	eval := New()
	if err := eval.Validate(`pass >= 3`); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := eval.Validate(`pass >=`); err == nil {
		t.Error("expected error for invalid expression")
	}
	if err := eval.Validate(""); err != nil {
		t.Errorf("empty expression should validate: %v", err)
	}
}
