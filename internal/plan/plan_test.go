package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlan = `
kind: BackupPlan
metadata:
  name: tabby
spec:
  store:
    bucket: tabby-models
    endpoint: https://fsn1.your-objectstorage.com
    region: fsn1
    profile: hetzner
  targets:
    - label: db
      source: /home/tabby/tabbyclassmodels
      prefix: db-backups/
      exclude:
        - models
    - label: models
      source: /home/tabby/tabbyclassmodels/models
      prefix: model-backups/
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(validPlan))
	require.NoError(t, err)

	assert.Equal(t, "BackupPlan", p.Kind)
	assert.Equal(t, "tabby", p.Metadata.Name)
	assert.Equal(t, "tabby-models", p.Spec.Store.Bucket)
	assert.Equal(t, "hetzner", p.Spec.Store.Profile)
	require.Len(t, p.Spec.Targets, 2)
	assert.Equal(t, []string{"models"}, p.Spec.Targets[0].Exclude)
	assert.Equal(t, "model-backups/", p.Spec.Targets[1].Prefix)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		plan string
	}{
		{
			name: "not yaml",
			plan: "{{{",
		},
		{
			name: "wrong kind",
			plan: `
kind: CollectJob
metadata:
  name: tabby
spec:
  store:
    bucket: tabby-models
  targets:
    - label: db
      source: /data
      prefix: db-backups/
`,
		},
		{
			name: "missing bucket",
			plan: `
kind: BackupPlan
metadata:
  name: tabby
spec:
  store: {}
  targets:
    - label: db
      source: /data
      prefix: db-backups/
`,
		},
		{
			name: "no targets",
			plan: `
kind: BackupPlan
metadata:
  name: tabby
spec:
  store:
    bucket: tabby-models
  targets: []
`,
		},
		{
			name: "prefix without trailing slash",
			plan: `
kind: BackupPlan
metadata:
  name: tabby
spec:
  store:
    bucket: tabby-models
  targets:
    - label: db
      source: /data
      prefix: db-backups
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.plan))
			require.Error(t, err)
		})
	}
}

func TestFindTarget(t *testing.T) {
	p, err := Parse([]byte(validPlan))
	require.NoError(t, err)

	target, err := FindTarget(p, "models")
	require.NoError(t, err)
	assert.Equal(t, "model-backups/", target.Prefix)

	_, err = FindTarget(p, "nope")
	require.Error(t, err)

	// Multiple targets and no label: ambiguous.
	_, err = FindTarget(p, "")
	require.Error(t, err)
}

func TestFindTarget_SingleTargetDefault(t *testing.T) {
	p, err := Parse([]byte(`
kind: BackupPlan
metadata:
  name: tabby
spec:
  store:
    bucket: tabby-models
  targets:
    - label: db
      source: /data
      prefix: db-backups/
`))
	require.NoError(t, err)

	target, err := FindTarget(p, "")
	require.NoError(t, err)
	assert.Equal(t, "db", target.Label)
}
