package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/cardinal-bot/panel/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"no rows", sql.ErrNoRows, KindNotFound},
		{"deadline", context.DeadlineExceeded, KindConnection},
		{"canceled", fmt.Errorf("query: %w", context.Canceled), KindConnection},
		{"conn done", sql.ErrConnDone, KindConnection},
		{"validation", &model.ValidationError{Field: "prefix", Message: "too long"}, KindValidation},
		{"already classified", fmt.Errorf("x: %w", ErrConflict), KindConflict},
		{"unknown", errors.New("near \"SELEC\": syntax error"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf(classify(%v)) = %v, want %v", tt.err, got, tt.want)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("cause lost: %v", err)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	for k, want := range map[Kind]string{
		KindUnknown:    "query",
		KindNotFound:   "not_found",
		KindConnection: "connection",
		KindValidation: "validation",
		KindConflict:   "conflict",
	} {
		if k.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(k), k.String(), want)
		}
	}
}
