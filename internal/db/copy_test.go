package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "contacts", []string{"full_name", "email"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"contacts"}, []string{"full_name", "email"}).WillReturnResult(3)

	rows := [][]any{
		{"Jane Doe", "jane@example.com"},
		{"John Smith", "john@example.com"},
		{"Jill Jones", "jill@example.com"},
	}
	n, err := CopyFrom(context.Background(), mock, "contacts", []string{"full_name", "email"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"contacts"}, []string{"email"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"jane@example.com"}}
	_, err = CopyFrom(context.Background(), mock, "contacts", []string{"email"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO contacts")
	assert.NoError(t, mock.ExpectationsWereMet())
}
