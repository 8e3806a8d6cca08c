package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type MockDriver struct {
	Queries     []string
	QueryParams []map[string]interface{}
	Results     []neo4j.EagerResult
	Err         error
	Indexed     bool
	Closed      bool
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.Queries = append(m.Queries, query)
	m.QueryParams = append(m.QueryParams, params)
	if m.Err != nil {
		return neo4j.EagerResult{}, m.Err
	}
	if len(m.Results) == 0 {
		return neo4j.EagerResult{}, nil
	}
	res := m.Results[0]
	m.Results = m.Results[1:]
	return res, nil
}

func (m *MockDriver) ExecuteReadQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	return m.ExecuteQuery(ctx, query, params)
}

func (m *MockDriver) BuildIndices(ctx context.Context) error {
	m.Indexed = true
	return nil
}

func (m *MockDriver) Close(ctx context.Context) error {
	m.Closed = true
	return nil
}

func record(keys []string, values ...interface{}) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}
