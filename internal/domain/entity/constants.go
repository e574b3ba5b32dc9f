package entity

// Record collections used by the repositories
const (
	CollectionWorkflowDefinitions = "workflow_definitions"
	CollectionWorkflowInstances   = "workflow_instances"
	CollectionWorkflowStepStatus  = "workflow_step_statuses"
	CollectionWorkflowHistory     = "workflow_history"
	CollectionTasks               = "task_assignments"
	CollectionProcesses           = "processes"
	CollectionApprovalChains      = "approval_chains"
	CollectionApprovalRequests    = "approval_requests"
	CollectionDelegationRules     = "delegation_rules"
	CollectionDeadLetters         = "dead_letter_items"
)

// Actor names recorded when the system acts on its own
const (
	ActorSystem      = "system"
	ActorSync        = "system:sync"
	ActorResume      = "system:resume"
	ActorEscalation  = "system:escalation"
	ActorExpiration  = "system:expiration"
	ActorAutoApprove = "system:auto-approve"
)
