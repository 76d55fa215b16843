package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/agoralabs/agora/internal/domain"
)

// ─── Agent Repository ───────────────────────────────────────────────────────

// UpsertAgent writes an agent record and replaces its credential set.
func (d *DB) UpsertAgent(agent domain.Agent) error {
	_, err := d.db.Exec(
		`INSERT INTO agents (id, name, status, capabilities, region, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			status=excluded.status,
			capabilities=excluded.capabilities,
			region=excluded.region`,
		agent.ID, agent.Name, string(agent.Status),
		jsonList(agent.Capabilities), agent.Region, agent.RegisteredAt.Unix(),
	)
	if err != nil {
		return err
	}

	if _, err := d.db.Exec(`DELETE FROM agent_credentials WHERE agent_id = ?`, agent.ID); err != nil {
		return err
	}
	for _, c := range agent.Credentials {
		_, err := d.db.Exec(
			`INSERT INTO agent_credentials (agent_id, type, issued_at, expires_at, revoked)
			 VALUES (?, ?, ?, ?, ?)`,
			agent.ID, c.Type, c.IssuedAt.Unix(), nullableUnix(c.ExpiresAt), c.Revoked,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetAgent retrieves an agent with its credentials.
func (d *DB) GetAgent(id string) (*domain.Agent, error) {
	row := d.db.QueryRow(
		`SELECT id, name, status, capabilities, region, registered_at
		 FROM agents WHERE id = ?`, id,
	)
	a, err := scanAgent(row)
	if err != nil || a == nil {
		return a, err
	}
	if err := d.loadCredentials(a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAgents returns agents, optionally filtered by status.
func (d *DB) ListAgents(status domain.AgentStatus) ([]domain.Agent, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = d.db.Query(
			`SELECT id, name, status, capabilities, region, registered_at
			 FROM agents ORDER BY id`)
	} else {
		rows, err = d.db.Query(
			`SELECT id, name, status, capabilities, region, registered_at
			 FROM agents WHERE status = ? ORDER BY id`, string(status))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		if err := d.loadCredentials(a); err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (d *DB) loadCredentials(a *domain.Agent) error {
	rows, err := d.db.Query(
		`SELECT type, issued_at, expires_at, revoked
		 FROM agent_credentials WHERE agent_id = ? ORDER BY id`, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.Credential
		var issued int64
		var expires sql.NullInt64
		if err := rows.Scan(&c.Type, &issued, &expires, &c.Revoked); err != nil {
			return err
		}
		c.IssuedAt = time.Unix(issued, 0)
		c.ExpiresAt = unixOrZero(expires)
		a.Credentials = append(a.Credentials, c)
	}
	return rows.Err()
}

func scanAgent(s scanner) (*domain.Agent, error) {
	var a domain.Agent
	var caps string
	var registered int64

	err := s.Scan(&a.ID, &a.Name, &a.Status, &caps, &a.Region, &registered)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	a.Capabilities = parseJSONList(caps)
	a.RegisteredAt = time.Unix(registered, 0)
	return &a, nil
}

// ─── Task Repository ────────────────────────────────────────────────────────

// InsertTask creates a new task record.
func (d *DB) InsertTask(task domain.Task) error {
	_, err := d.db.Exec(
		`INSERT INTO tasks (id, buyer_id, buyer_org, title, max_budget, currency,
			auction_type, status, deadline, created_at, min_reputation,
			required_skills, data_classes, region, required_creds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.BuyerID, task.BuyerOrg, task.Title, money(task.MaxBudget),
		task.Currency, string(task.AuctionType), string(task.Status),
		nullableUnix(task.Deadline), task.CreatedAt.Unix(), task.MinReputation,
		jsonList(task.RequiredSkills), jsonList(task.DataClasses),
		task.Region, jsonList(task.RequiredCredentials),
	)
	return err
}

// GetTask retrieves a task by ID.
func (d *DB) GetTask(id string) (*domain.Task, error) {
	row := d.db.QueryRow(
		`SELECT id, buyer_id, buyer_org, title, max_budget, currency, auction_type,
			status, deadline, created_at, min_reputation, required_skills,
			data_classes, region, required_creds
		 FROM tasks WHERE id = ?`, id,
	)
	return scanTask(row)
}

// TransitionTask atomically moves a task from one status to another,
// optionally setting the auction deadline. Returns false if the task
// was not in the expected status — the caller lost the race.
func (d *DB) TransitionTask(id string, from, to domain.TaskStatus, deadline time.Time) (bool, error) {
	var result sql.Result
	var err error
	if deadline.IsZero() {
		result, err = d.db.Exec(
			`UPDATE tasks SET status = ? WHERE id = ? AND status = ?`,
			string(to), id, string(from))
	} else {
		result, err = d.db.Exec(
			`UPDATE tasks SET status = ?, deadline = ? WHERE id = ? AND status = ?`,
			string(to), deadline.Unix(), id, string(from))
	}
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func scanTask(s scanner) (*domain.Task, error) {
	var t domain.Task
	var budget, skills, classes, creds string
	var deadline sql.NullInt64
	var created int64

	err := s.Scan(&t.ID, &t.BuyerID, &t.BuyerOrg, &t.Title, &budget, &t.Currency,
		&t.AuctionType, &t.Status, &deadline, &created, &t.MinReputation,
		&skills, &classes, &t.Region, &creds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if t.MaxBudget, err = parseMoney(budget); err != nil {
		return nil, fmt.Errorf("task %s budget: %w", t.ID, err)
	}
	t.Deadline = unixOrZero(deadline)
	t.CreatedAt = time.Unix(created, 0)
	t.RequiredSkills = parseJSONList(skills)
	t.DataClasses = parseJSONList(classes)
	t.RequiredCredentials = parseJSONList(creds)
	return &t, nil
}

// ─── Bid Repository ─────────────────────────────────────────────────────────

// InsertBid persists a bid. The UNIQUE(task_id, agent_id) constraint
// rejects a second bid from the same agent as domain.ErrDuplicateBid.
func (d *DB) InsertBid(bid domain.Bid) error {
	var cipher, nonce, commit sql.NullString
	if bid.Sealed != nil {
		cipher = nullStr(bid.Sealed.Ciphertext)
		nonce = nullStr(bid.Sealed.Nonce)
		commit = nullStr(bid.Sealed.Commitment)
	}
	_, err := d.db.Exec(
		`INSERT INTO bids (id, task_id, agent_id, amount, currency, status,
			ciphertext, nonce, commitment, submitted_at, revealed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bid.ID, bid.TaskID, bid.AgentID, money(bid.Amount), bid.Currency,
		string(bid.Status), cipher, nonce, commit,
		bid.SubmittedAt.Unix(), nullableUnix(bid.RevealedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return domain.ErrDuplicateBid
	}
	return err
}

// GetBid retrieves a bid by ID.
func (d *DB) GetBid(id string) (*domain.Bid, error) {
	row := d.db.QueryRow(bidColumns+` WHERE id = ?`, id)
	return scanBid(row)
}

// BidsForTask returns all bids on a task in submission order.
func (d *DB) BidsForTask(taskID string) ([]domain.Bid, error) {
	rows, err := d.db.Query(bidColumns+` WHERE task_id = ? ORDER BY submitted_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

// RevealBid stores the unsealed amount and marks the bid REVEALED.
func (d *DB) RevealBid(id string, amount string, at time.Time) error {
	_, err := d.db.Exec(
		`UPDATE bids SET amount = ?, status = ?, revealed_at = ? WHERE id = ?`,
		amount, string(domain.BidRevealed), at.Unix(), id)
	return err
}

// UpdateBidStatus changes a bid's status.
func (d *DB) UpdateBidStatus(id string, status domain.BidStatus) error {
	_, err := d.db.Exec(`UPDATE bids SET status = ? WHERE id = ?`, string(status), id)
	return err
}

// WithdrawBids marks every bid on a task WITHDRAWN.
func (d *DB) WithdrawBids(taskID string) error {
	_, err := d.db.Exec(
		`UPDATE bids SET status = ? WHERE task_id = ?`,
		string(domain.BidWithdrawn), taskID)
	return err
}

const bidColumns = `SELECT id, task_id, agent_id, amount, currency, status,
	ciphertext, nonce, commitment, submitted_at, revealed_at FROM bids`

func scanBid(s scanner) (*domain.Bid, error) {
	var b domain.Bid
	var amount string
	var cipher, nonce, commit sql.NullString
	var submitted int64
	var revealed sql.NullInt64

	err := s.Scan(&b.ID, &b.TaskID, &b.AgentID, &amount, &b.Currency, &b.Status,
		&cipher, &nonce, &commit, &submitted, &revealed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan bid: %w", err)
	}

	if b.Amount, err = parseMoney(amount); err != nil {
		return nil, fmt.Errorf("bid %s amount: %w", b.ID, err)
	}
	if cipher.Valid {
		b.Sealed = &domain.SealedBid{
			Ciphertext: cipher.String,
			Nonce:      strOrEmpty(nonce),
			Commitment: strOrEmpty(commit),
		}
	}
	b.SubmittedAt = time.Unix(submitted, 0)
	b.RevealedAt = unixOrZero(revealed)
	return &b, nil
}

// ─── Assignment Repository ──────────────────────────────────────────────────

// InsertAssignment creates the one assignment for an awarded task.
// The UNIQUE(task_id) constraint guarantees at-most-once creation.
func (d *DB) InsertAssignment(a domain.TaskAssignment) error {
	_, err := d.db.Exec(
		`INSERT INTO assignments (id, task_id, agent_id, bid_id, agreed_price,
			currency, sla_due_at, status, created_at, completed_at, buyer_rating)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, a.AgentID, a.BidID, money(a.AgreedPrice), a.Currency,
		a.SLADueAt.Unix(), string(a.Status), a.CreatedAt.Unix(),
		nullableUnix(a.CompletedAt), a.BuyerRating,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return domain.ErrAlreadyExists
	}
	return err
}

// GetAssignment retrieves an assignment by ID.
func (d *DB) GetAssignment(id string) (*domain.TaskAssignment, error) {
	row := d.db.QueryRow(assignmentColumns+` WHERE id = ?`, id)
	return scanAssignment(row)
}

// GetAssignmentByTask retrieves the assignment for a task, if any.
func (d *DB) GetAssignmentByTask(taskID string) (*domain.TaskAssignment, error) {
	row := d.db.QueryRow(assignmentColumns+` WHERE task_id = ?`, taskID)
	return scanAssignment(row)
}

// TransitionAssignment atomically moves an assignment between statuses.
// Returns false if the assignment was not in the expected status.
func (d *DB) TransitionAssignment(id string, from, to domain.AssignmentStatus) (bool, error) {
	result, err := d.db.Exec(
		`UPDATE assignments SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// CompleteAssignment marks an assignment COMPLETED with the buyer's rating.
func (d *DB) CompleteAssignment(id string, rating int, at time.Time) (bool, error) {
	result, err := d.db.Exec(
		`UPDATE assignments SET status = ?, completed_at = ?, buyer_rating = ?
		 WHERE id = ? AND status = ?`,
		string(domain.AssignmentCompleted), at.Unix(), rating,
		id, string(domain.AssignmentActive))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// FinishDisputedAssignment moves a DISPUTED assignment to its terminal
// status after resolution.
func (d *DB) FinishDisputedAssignment(id string, to domain.AssignmentStatus, at time.Time) (bool, error) {
	result, err := d.db.Exec(
		`UPDATE assignments SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(to), at.Unix(), id, string(domain.AssignmentDisputed))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// AssignmentsByAgent returns an agent's assignments created since the
// cutoff (zero time = all).
func (d *DB) AssignmentsByAgent(agentID string, since time.Time) ([]domain.TaskAssignment, error) {
	rows, err := d.db.Query(
		assignmentColumns+` WHERE agent_id = ? AND created_at >= ? ORDER BY created_at`,
		agentID, sinceUnix(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TaskAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

const assignmentColumns = `SELECT id, task_id, agent_id, bid_id, agreed_price,
	currency, sla_due_at, status, created_at, completed_at, buyer_rating FROM assignments`

func scanAssignment(s scanner) (*domain.TaskAssignment, error) {
	var a domain.TaskAssignment
	var price string
	var slaDue, created int64
	var completed sql.NullInt64

	err := s.Scan(&a.ID, &a.TaskID, &a.AgentID, &a.BidID, &price, &a.Currency,
		&slaDue, &a.Status, &created, &completed, &a.BuyerRating)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan assignment: %w", err)
	}

	if a.AgreedPrice, err = parseMoney(price); err != nil {
		return nil, fmt.Errorf("assignment %s price: %w", a.ID, err)
	}
	a.SLADueAt = time.Unix(slaDue, 0)
	a.CreatedAt = time.Unix(created, 0)
	a.CompletedAt = unixOrZero(completed)
	return &a, nil
}

// TaskBudget returns a task's max budget, for cost-efficiency scoring.
func (d *DB) TaskBudget(taskID string) (string, error) {
	var budget string
	err := d.db.QueryRow(`SELECT max_budget FROM tasks WHERE id = ?`, taskID).Scan(&budget)
	if err == sql.ErrNoRows {
		return "", domain.ErrTaskNotFound
	}
	return budget, err
}

func sinceUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
