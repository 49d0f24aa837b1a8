package v1

// BackupPlan declares the store and the set of backup targets for one
// deployment, e.g. a database target excluding the models subtree and a
// separate models target.
type BackupPlan struct {
	Kind     string         `yaml:"kind" json:"kind" validate:"required,eq=BackupPlan"`
	Metadata Metadata       `yaml:"metadata" json:"metadata" validate:"required"`
	Spec     BackupPlanSpec `yaml:"spec" json:"spec" validate:"required"`
}

type Metadata struct {
	Name string `yaml:"name" json:"name" validate:"required"`
}

type BackupPlanSpec struct {
	Store   StoreSpec `yaml:"store" json:"store" validate:"required"`
	Targets []Target  `yaml:"targets" json:"targets" validate:"required,min=1,dive"`
}

// StoreSpec addresses the S3-compatible bucket backups are written to.
// Credentials never appear here; they come from the shared credentials
// profile or the environment.
type StoreSpec struct {
	Bucket         string `yaml:"bucket" json:"bucket" validate:"required"`
	Endpoint       string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" validate:"omitempty,url"`
	Region         string `yaml:"region,omitempty" json:"region,omitempty"`
	Profile        string `yaml:"profile,omitempty" json:"profile,omitempty"`
	ForcePathStyle bool   `yaml:"forcePathStyle,omitempty" json:"forcePathStyle,omitempty"`
}

// Target is one backup series: a source directory archived under a key
// prefix with a dated, labeled name.
type Target struct {
	// Label names the series and forms the archive file name,
	// "<label>_<date>.tar.zst".
	Label string `yaml:"label" json:"label" validate:"required"`

	// Source is the directory tree to archive.
	Source string `yaml:"source" json:"source" validate:"required"`

	// Prefix is the key namespace, e.g. "db-backups/".
	Prefix string `yaml:"prefix" json:"prefix" validate:"required,endswith=/"`

	// Exclude lists paths relative to Source omitted from the archive.
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}
