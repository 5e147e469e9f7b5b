package pgutils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func pgError(code, constraint string) error {
	return &pgconn.PgError{Code: code, ConstraintName: constraint}
}

func TestViolationClassifiers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"nil error", nil, IsUniqueViolation, false},
		{"unique violation", pgError("23505", "projects_live_name_uq"), IsUniqueViolation, true},
		{"wrapped unique violation", fmt.Errorf("insert: %w", pgError("23505", "")), IsUniqueViolation, true},
		{"fk is not unique", pgError("23503", ""), IsUniqueViolation, false},
		{"plain error", errors.New("SQLSTATE 23505"), IsUniqueViolation, false},
		{"foreign key violation", pgError("23503", "sources_project_id_fkey"), IsForeignKeyViolation, true},
		{"not null violation", pgError("23502", ""), IsNotNullViolation, true},
		{"check violation", pgError("23514", ""), IsCheckViolation, true},
		{"check is not fk", pgError("23514", ""), IsForeignKeyViolation, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestConstraintName(t *testing.T) {
	assert.Equal(t, "entities_dedup_uq", ConstraintName(pgError("23505", "entities_dedup_uq")))
	assert.Equal(t, "", ConstraintName(errors.New("not a pg error")))
	assert.Equal(t, "", ConstraintName(nil))
}
