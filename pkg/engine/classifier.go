package engine

// maxDestructiveBeforeRed is the number of deletes plus replacements above which a plan is RED.
const maxDestructiveBeforeRed = 5

// DefaultCriticalTypes are stateful resource types whose deletion or replacement loses data.
var DefaultCriticalTypes = []string{
	// AWS
	"aws_db_instance",
	"aws_rds_cluster",
	"aws_kms_key",
	"aws_s3_bucket",
	"aws_dynamodb_table",
	"aws_elasticache_cluster",
	"aws_redshift_cluster",
	"aws_mq_broker",
	"aws_docdb_cluster",
	"aws_neptune_cluster",
	"aws_memorydb_cluster",
	"aws_qldb_ledger",
	// Azure
	"azurerm_sql_database",
	"azurerm_sql_server",
	"azurerm_storage_account",
	"azurerm_key_vault",
	"azurerm_cosmosdb_account",
	// GCP
	"google_sql_database_instance",
	"google_storage_bucket",
	"google_kms_key_ring",
}

// ChangeKind is the classification bucket of a single change.
type ChangeKind string

const (
	KindCreate  ChangeKind = "create"
	KindUpdate  ChangeKind = "update"
	KindDelete  ChangeKind = "delete"
	KindReplace ChangeKind = "replace"
	KindIgnored ChangeKind = "ignored"
)

// KindOf buckets an action set. Replace wins over create and delete;
// otherwise the first match of create, delete, update is used.
func KindOf(actions ActionSet) ChangeKind {
	switch {
	case actions.IsReplace():
		return KindReplace
	case actions.Has(ActionCreate):
		return KindCreate
	case actions.Has(ActionDelete):
		return KindDelete
	case actions.Has(ActionUpdate):
		return KindUpdate
	default:
		return KindIgnored
	}
}

// Classifier accumulates a blast radius one change at a time.
// It keeps only counters and critical addresses, so a plan can be
// classified while it is being streamed.
type Classifier struct {
	thresholds Thresholds
	critical   map[string]struct{}
	radius     BlastRadius
}

// NewClassifier creates a classifier. A nil criticalTypes uses DefaultCriticalTypes.
func NewClassifier(thresholds Thresholds, criticalTypes []string) *Classifier {
	if criticalTypes == nil {
		criticalTypes = DefaultCriticalTypes
	}
	critical := make(map[string]struct{}, len(criticalTypes))
	for _, t := range criticalTypes {
		critical[t] = struct{}{}
	}
	return &Classifier{
		thresholds: thresholds,
		critical:   critical,
		radius:     BlastRadius{CriticalResources: []string{}},
	}
}

// Add records one change.
func (c *Classifier) Add(change ResourceChange) {
	switch KindOf(change.Actions) {
	case KindReplace:
		c.radius.ReplaceCount++
	case KindCreate:
		c.radius.CreateCount++
	case KindDelete:
		c.radius.DeleteCount++
	case KindUpdate:
		c.radius.UpdateCount++
	default:
		return
	}
	c.radius.TotalResources++

	if _, ok := c.critical[change.Type]; ok && change.Actions.IsDestructive() {
		c.radius.CriticalResources = append(c.radius.CriticalResources, change.Address)
	}
}

// Result returns the blast radius of everything added so far.
func (c *Classifier) Result() BlastRadius {
	br := c.radius
	br.CriticalResources = append([]string{}, c.radius.CriticalResources...)
	br.Level = c.level(br)
	return br
}

func (c *Classifier) level(br BlastRadius) Level {
	switch {
	case br.TotalResources >= c.thresholds.Red,
		br.Destructive() > maxDestructiveBeforeRed,
		len(br.CriticalResources) > 0:
		return LevelRed
	case br.TotalResources >= c.thresholds.Yellow,
		br.Destructive() > 0:
		return LevelYellow
	default:
		return LevelGreen
	}
}

// Classify computes the blast radius of a change sequence.
func Classify(changes []ResourceChange, thresholds Thresholds, criticalTypes []string) BlastRadius {
	c := NewClassifier(thresholds, criticalTypes)
	for i := range changes {
		c.Add(changes[i])
	}
	return c.Result()
}
