package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outflowhq/outflow/pkg/config"
)

const yamlDefinition = `
id: agent-1
account_id: acct-1
name: Invite follow-up
enabled: true
nodes:
  - id: t1
    type: trigger
    data:
      event: invite_accepted
  - id: a1
    type: action
    data:
      actionType: send_message
      message: "Oi {{.lead.name}}"
edges:
  - id: e1
    source: t1
    target: a1
`

const jsonDefinition = `{
  "id": "agent-2",
  "account_id": "acct-1",
  "name": "Cold outreach",
  "nodes": [{"id": "t1", "type": "trigger", "data": {}}],
  "edges": []
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAgentDefinitionYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "agent.yaml", yamlDefinition)

	definition, err := config.LoadAgentDefinition(path)
	require.NoError(t, err)

	assert.Equal(t, "agent-1", definition.ID)
	assert.Equal(t, "acct-1", definition.AccountID)
	assert.True(t, definition.Enabled)
	require.Len(t, definition.Nodes, 2)
	assert.Equal(t, "send_message", definition.Nodes[1].Data["actionType"])
	require.Len(t, definition.Edges, 1)
	assert.Equal(t, "t1", definition.Edges[0].Source)
}

func TestLoadAgentDefinitionJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "agent.json", jsonDefinition)

	definition, err := config.LoadAgentDefinition(path)
	require.NoError(t, err)

	assert.Equal(t, "agent-2", definition.ID)
}

func TestLoadAgentDefinitionRejectsUnknownExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "agent.toml", "id = 1")

	_, err := config.LoadAgentDefinition(path)
	require.ErrorIs(t, err, config.ErrUnsupportedFormat)
}

func TestLoadAgentDirSortsByName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.json", jsonDefinition)
	writeFile(t, dir, "a.yaml", yamlDefinition)
	writeFile(t, dir, "notes.txt", "ignored")

	definitions, err := config.LoadAgentDir(dir)
	require.NoError(t, err)

	require.Len(t, definitions, 2)
	assert.Equal(t, "agent-1", definitions[0].ID)
	assert.Equal(t, "agent-2", definitions[1].ID)
}
