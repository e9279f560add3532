package postgres

const ruleColumns = `
    id, project_id, name, enabled, priority,
    trigger_type, trigger_event, trigger_section_id, schedule, filters,
    action_type, webhook_url, secret, timeout_ms, params,
    analytics_enabled, analytics_window_seconds, analytics_retention_seconds,
    last_evaluated_at, created_at, updated_at`

const firingColumns = `
    id, rule_id, project_id, event_id, event_type, entity_id, depth,
    scheduled_at, fired_at, status, idempotency_key, created_at`

const queryListEnabledRules = `
SELECT` + ruleColumns + `
FROM rules
WHERE enabled = true
ORDER BY created_at ASC, id ASC
`

const queryListScheduledRules = `
SELECT` + ruleColumns + `
FROM rules
WHERE enabled = true
  AND trigger_type = 'schedule'
ORDER BY id
LIMIT $1 OFFSET $2
`

const queryGetRuleByID = `
SELECT` + ruleColumns + `
FROM rules
WHERE id = $1
`

const queryListRules = `
SELECT` + ruleColumns + `
FROM rules
WHERE project_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryInsertRule = `
INSERT INTO rules (` + ruleColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
`

// An import that changes a rule's schedule restarts its evaluation window.
const queryUpsertRule = queryInsertRule + `
ON CONFLICT (id) DO UPDATE SET
    project_id = EXCLUDED.project_id,
    name = EXCLUDED.name,
    enabled = EXCLUDED.enabled,
    priority = EXCLUDED.priority,
    trigger_type = EXCLUDED.trigger_type,
    trigger_event = EXCLUDED.trigger_event,
    trigger_section_id = EXCLUDED.trigger_section_id,
    schedule = EXCLUDED.schedule,
    filters = EXCLUDED.filters,
    action_type = EXCLUDED.action_type,
    webhook_url = EXCLUDED.webhook_url,
    secret = EXCLUDED.secret,
    timeout_ms = EXCLUDED.timeout_ms,
    params = EXCLUDED.params,
    analytics_enabled = EXCLUDED.analytics_enabled,
    analytics_window_seconds = EXCLUDED.analytics_window_seconds,
    analytics_retention_seconds = EXCLUDED.analytics_retention_seconds,
    last_evaluated_at = CASE
        WHEN rules.schedule IS DISTINCT FROM EXCLUDED.schedule THEN NULL
        ELSE rules.last_evaluated_at
    END,
    updated_at = EXCLUDED.updated_at
`

const queryDeleteRule = `
DELETE FROM rules WHERE id = $1 AND project_id = $2
RETURNING id`

const queryUpdateLastEvaluatedAt = `
UPDATE rules
SET last_evaluated_at = $2
WHERE id = $1
`

const queryListDueTasks = `
SELECT id, project_id, section_id, parent_task_id, title, assignee, tags, completed, due_date, created_at, updated_at
FROM tasks
WHERE due_date IS NOT NULL
  AND ($1::uuid = '00000000-0000-0000-0000-000000000000'::uuid OR project_id = $1)
ORDER BY due_date ASC
`

const queryUpsertTask = `
INSERT INTO tasks (id, project_id, section_id, parent_task_id, title, assignee, tags, completed, due_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (id) DO UPDATE SET
    project_id = EXCLUDED.project_id,
    section_id = EXCLUDED.section_id,
    parent_task_id = EXCLUDED.parent_task_id,
    title = EXCLUDED.title,
    assignee = EXCLUDED.assignee,
    tags = EXCLUDED.tags,
    completed = EXCLUDED.completed,
    due_date = EXCLUDED.due_date,
    updated_at = EXCLUDED.updated_at
`

const queryDeleteTask = `
DELETE FROM tasks WHERE id = $1
`

const queryInsertFiring = `
INSERT INTO firings (` + firingColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

const queryListFirings = `
SELECT` + firingColumns + `
FROM firings
WHERE rule_id = $1
ORDER BY scheduled_at DESC
LIMIT $2 OFFSET $3
`

const queryGetOrphanedFirings = `
SELECT` + firingColumns + `
FROM firings
WHERE status = 'emitted'
  AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`

const queryInsertDeliveryAttempt = `
INSERT INTO delivery_attempts (id, firing_id, attempt, status_code, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryGetFiringStatus = `
SELECT status FROM firings WHERE id = $1
`

const queryUpdateFiringStatus = `
UPDATE firings
SET status = $1
WHERE id = $2
  AND status NOT IN ('delivered', 'failed')
`
