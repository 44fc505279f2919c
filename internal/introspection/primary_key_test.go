package introspection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrimaryKeyColumns(t *testing.T) {
	tests := []struct {
		name      string
		table     Table
		wantNames []string
	}{
		{
			name: "single primary key",
			table: Table{
				Name: "business_partners",
				Columns: []Column{
					{Name: "id", DataType: "varchar", IsPrimaryKey: true},
					{Name: "name1", DataType: "varchar"},
				},
			},
			wantNames: []string{"id"},
		},
		{
			name: "flagged columns keep column order",
			table: Table{
				Name: "administrative_divisions",
				Columns: []Column{
					{Name: "code_publisher", DataType: "varchar", IsPrimaryKey: true},
					{Name: "population", DataType: "bigint"},
					{Name: "code_id", DataType: "varchar", IsPrimaryKey: true},
					{Name: "division_code", DataType: "varchar", IsPrimaryKey: true},
				},
			},
			wantNames: []string{"code_publisher", "code_id", "division_code"},
		},
		{
			name: "constraint order from catalog",
			table: Table{
				Name:       "memberships",
				PrimaryKey: []string{"org_id", "user_id"},
				Columns: []Column{
					{Name: "user_id", DataType: "varchar", IsPrimaryKey: true},
					{Name: "org_id", DataType: "varchar", IsPrimaryKey: true},
				},
			},
			wantNames: []string{"org_id", "user_id"},
		},
		{
			name: "no primary key",
			table: Table{
				Name:    "audit_log",
				Columns: []Column{{Name: "message", DataType: "text"}},
			},
			wantNames: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var names []string
			for _, col := range PrimaryKeyColumns(tt.table) {
				names = append(names, col.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}
