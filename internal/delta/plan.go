package delta

import (
	"github.com/santoshvicky137/SFCICD/internal/git"
	"github.com/santoshvicky137/SFCICD/internal/manifest"
)

// Mode selects how the resolved delta is consumed downstream.
type Mode string

const (
	// ModeDeploy targets a recognized environment and produces both
	// additive and destructive manifests.
	ModeDeploy Mode = "deploy"
	// ModeValidate is the ad-hoc validation context: additive manifest
	// only, never a destructive one.
	ModeValidate Mode = "validate"
)

// Target maps a deployment environment to its remote branch and the
// icon used in run reports.
type Target struct {
	Branch string
	Icon   string
}

// targets enumerates the recognized deployment environments.
var targets = map[string]Target{
	"dev":  {Branch: "origin/develop", Icon: "🧪"},
	"qa":   {Branch: "origin/qa", Icon: "🔎"},
	"uat":  {Branch: "origin/uat", Icon: "🎯"},
	"prod": {Branch: "origin/main", Icon: "🚀"},
}

// validationBranch is the branch ad-hoc validations diff against.
const validationBranch = "origin/main"

// LookupTarget returns the deployment target for an environment name.
func LookupTarget(environment string) (Target, bool) {
	t, ok := targets[environment]
	return t, ok
}

// Plan classifies a change list into staging and destructive work.
type Plan struct {
	// Stage holds non-deletion changes whose paths still exist in the
	// work tree.
	Stage []git.Change
	// Deleted holds paths removed between base and HEAD.
	Deleted []string
	// Vanished holds non-deletion paths that no longer exist on disk;
	// they are skipped, not staged.
	Vanished []string
}

// Result describes one resolver run for reporting.
type Result struct {
	Mode       Mode
	BaseCommit string
	NoChanges  bool

	StagedCount     int
	VanishedCount   int
	Destructive     []manifest.Member
	ManifestPath    string
	DestructivePath string
}
