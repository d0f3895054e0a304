package repository

import (
	"database/sql"

	"github.com/RealZimboGuy/convoflow/internal/config"
	"github.com/RealZimboGuy/convoflow/pkg/convoflow/domain"
)

// WorkflowDefinitionRepository persists summary rows for the workflow
// definitions loaded from the declarative documents, so operators can see
// what each running instance has loaded.
type WorkflowDefinitionRepository struct {
	db *sql.DB
}

func NewWorkflowDefinitionRepository(db *sql.DB) *WorkflowDefinitionRepository {
	return &WorkflowDefinitionRepository{db: db}
}

// Save inserts a new workflow definition record or updates an existing one by name.
func (r *WorkflowDefinitionRepository) Save(def *domain.WorkflowDefinitionRecord) error {
	query := ""
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	if db == config.DATABASE_TYPE_POSTGRES || db == config.DATABASE_TYPE_SQLLITE {
		query = `
		INSERT INTO workflow_definitions (name, agent_id, description, flow_chart, created, updated)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `)
		ON CONFLICT (name)
		DO UPDATE SET agent_id = EXCLUDED.agent_id,
			description = EXCLUDED.description,
			flow_chart = EXCLUDED.flow_chart,
			updated = EXCLUDED.updated
	`
	} else if db == config.DATABASE_TYPE_MYSQL {
		query = `
		INSERT INTO workflow_definitions (name, agent_id, description, flow_chart, created, updated)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `)
		ON DUPLICATE KEY UPDATE agent_id = VALUES(agent_id),
			description = VALUES(description),
			flow_chart = VALUES(flow_chart),
			updated = VALUES(updated)
	`
	} else {
		panic("Unknown database type trying to save workflow definition")
	}

	_, err := r.db.Exec(query, def.Name, def.AgentID, def.Description, def.FlowChart,
		formatDateInDatabase(def.Created), formatDateInDatabase(def.Updated))
	return err
}

// FindByName fetches a workflow definition record by its unique name.
func (r *WorkflowDefinitionRepository) FindByName(name string) (*domain.WorkflowDefinitionRecord, error) {
	query := `
		SELECT name, agent_id, description, flow_chart, created, updated
		FROM workflow_definitions WHERE name = ` + placeholder(1) + `
	`
	var def domain.WorkflowDefinitionRecord
	err := r.db.QueryRow(query, name).Scan(
		&def.Name,
		&def.AgentID,
		&def.Description,
		&def.FlowChart,
		&def.Created,
		&def.Updated,
	)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// FindAll returns all workflow definition records.
func (r *WorkflowDefinitionRepository) FindAll() (*[]domain.WorkflowDefinitionRecord, error) {
	query := `
		SELECT name, agent_id, description, flow_chart, created, updated
		FROM workflow_definitions
		ORDER BY name
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]domain.WorkflowDefinitionRecord, 0)
	for rows.Next() {
		var d domain.WorkflowDefinitionRecord
		if err := rows.Scan(&d.Name, &d.AgentID, &d.Description, &d.FlowChart, &d.Created, &d.Updated); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &defs, nil
}
