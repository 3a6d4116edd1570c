package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

// contentSource describes how one content table projects onto the common row shape.
type contentSource struct {
	alias      string
	selectFrom string
	// visible filters rows that may reach an audience.
	visible string
	owner   string
}

var contentSources = map[models.ContentType]contentSource{
	models.ContentAssignment: {
		alias: "a",
		selectFrom: `SELECT a.id, a.faculty_id AS owner_id, a.title, a.description AS summary, a.status,
	a.department, a.target_years, a.audience, NULL::text AS recipient_id, NULL::text AS parent_id,
	NULL::timestamptz AS event_date, a.due_date, a.created_at, a.updated_at
FROM assignments a`,
		visible: `a.status IN ('published', 'active')`,
		owner:   `a.faculty_id`,
	},
	models.ContentAnnouncement: {
		alias: "n",
		selectFrom: `SELECT n.id, n.faculty_id AS owner_id, n.title, n.content AS summary, n.status,
	n.department, n.target_years, n.audience, NULL::text AS recipient_id, NULL::text AS parent_id,
	NULL::timestamptz AS event_date, NULL::timestamptz AS due_date, n.created_at, n.updated_at
FROM announcements n`,
		visible: `n.status <> 'draft'`,
		owner:   `n.faculty_id`,
	},
	models.ContentStudyGroup: {
		alias: "g",
		selectFrom: `SELECT g.id, g.created_by AS owner_id, g.name AS title, g.description AS summary, g.status,
	g.department, g.target_years, g.audience, NULL::text AS recipient_id, NULL::text AS parent_id,
	NULL::timestamptz AS event_date, NULL::timestamptz AS due_date, g.created_at, g.updated_at
FROM study_groups g`,
		visible: `g.status = 'active'`,
		owner:   `g.created_by`,
	},
	models.ContentEvent: {
		alias: "e",
		selectFrom: `SELECT e.id, e.created_by AS owner_id, e.title, e.description AS summary, e.status,
	e.department, e.target_years, e.audience, NULL::text AS recipient_id, NULL::text AS parent_id,
	e.event_date, NULL::timestamptz AS due_date, e.created_at, e.updated_at
FROM events e`,
		visible: `e.status NOT IN ('draft', 'cancelled')`,
		owner:   `e.created_by`,
	},
	models.ContentSubmission: {
		alias: "s",
		selectFrom: `SELECT s.id, s.student_id AS owner_id, a.title, s.status AS summary, s.status,
	NULL::text AS department, NULL::text[] AS target_years, 'faculty' AS audience, a.faculty_id AS recipient_id,
	s.assignment_id AS parent_id, NULL::timestamptz AS event_date, a.due_date, s.submitted_at AS created_at, s.updated_at
FROM submissions s JOIN assignments a ON a.id = s.assignment_id`,
		visible: `TRUE`,
		owner:   `a.faculty_id`,
	},
	models.ContentGrade: {
		alias: "gr",
		selectFrom: `SELECT gr.id, gr.graded_by AS owner_id, a.title, gr.feedback AS summary, 'graded' AS status,
	NULL::text AS department, NULL::text[] AS target_years, 'student' AS audience, s.student_id AS recipient_id,
	s.assignment_id AS parent_id, NULL::timestamptz AS event_date, a.due_date, gr.created_at, gr.updated_at
FROM grades gr JOIN submissions s ON s.id = gr.submission_id JOIN assignments a ON a.id = s.assignment_id`,
		visible: `TRUE`,
		owner:   `gr.graded_by`,
	},
}

type contentRow struct {
	ID          string         `db:"id"`
	OwnerID     string         `db:"owner_id"`
	Title       string         `db:"title"`
	Summary     string         `db:"summary"`
	Status      string         `db:"status"`
	Department  *string        `db:"department"`
	TargetYears pq.StringArray `db:"target_years"`
	Audience    string         `db:"audience"`
	RecipientID *string        `db:"recipient_id"`
	ParentID    *string        `db:"parent_id"`
	EventDate   *time.Time     `db:"event_date"`
	DueDate     *time.Time     `db:"due_date"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r contentRow) toModel(ct models.ContentType) models.ContentItem {
	item := models.ContentItem{
		Type:      ct,
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Title:     r.Title,
		Summary:   r.Summary,
		Status:    r.Status,
		EventDate: r.EventDate,
		DueDate:   r.DueDate,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.RecipientID != nil {
		item.RecipientID = *r.RecipientID
	}
	if r.ParentID != nil {
		item.ParentID = *r.ParentID
	}
	if !ct.Direct() {
		item.Target = models.NewTargetSpec(r.Department, r.TargetYears, r.Audience)
	}
	return item
}

// ContentRepository reads content tables written by the publishing subsystem.
type ContentRepository struct {
	db *sqlx.DB
}

// NewContentRepository creates a new instance of ContentRepository.
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

func sourceFor(ct models.ContentType) (contentSource, error) {
	src, ok := contentSources[ct]
	if !ok {
		return contentSource{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown content type %q", ct))
	}
	return src, nil
}

func (r *ContentRepository) selectItems(ctx context.Context, ct models.ContentType, query string, args ...interface{}) ([]models.ContentItem, error) {
	var rows []contentRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	items := make([]models.ContentItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toModel(ct))
	}
	return items, nil
}

// Get loads one content item.
func (r *ContentRepository) Get(ctx context.Context, ct models.ContentType, id string) (*models.ContentItem, error) {
	src, err := sourceFor(ct)
	if err != nil {
		return nil, err
	}
	query := src.selectFrom + ` WHERE ` + src.alias + `.id = $1`
	var row contentRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s %s not found", ct, id))
		}
		return nil, fmt.Errorf("get %s: %w", ct, err)
	}
	item := row.toModel(ct)
	return &item, nil
}

// ListChangedSince pages through rows strictly after cursor in (updated_at, id) order.
func (r *ContentRepository) ListChangedSince(ctx context.Context, ct models.ContentType, cursor models.Cursor, limit int) ([]models.ContentItem, error) {
	src, err := sourceFor(ct)
	if err != nil {
		return nil, err
	}
	a := src.alias
	query := src.selectFrom + fmt.Sprintf(` WHERE (%[1]s.updated_at, %[1]s.id) > ($1, $2) ORDER BY %[1]s.updated_at ASC, %[1]s.id ASC LIMIT $3`, a)
	items, err := r.selectItems(ctx, ct, query, cursor.UpdatedAt, cursor.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list changed %s: %w", ct, err)
	}
	return items, nil
}

// ListVisibleCandidates returns the newest deliverable items scoped to the
// department or global, for final audience filtering by the caller.
func (r *ContentRepository) ListVisibleCandidates(ctx context.Context, ct models.ContentType, department *string, limit int) ([]models.ContentItem, error) {
	src, err := sourceFor(ct)
	if err != nil {
		return nil, err
	}
	a := src.alias
	dept := ""
	if department != nil {
		dept = strings.ToUpper(strings.TrimSpace(*department))
	}
	query := src.selectFrom + fmt.Sprintf(` WHERE %[2]s AND (%[1]s.department IS NULL OR UPPER(TRIM(%[1]s.department)) IN ('', 'ALL', $1)) ORDER BY %[1]s.created_at DESC, %[1]s.id DESC LIMIT $2`, a, src.visible)
	items, err := r.selectItems(ctx, ct, query, dept, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s candidates: %w", ct, err)
	}
	return items, nil
}

// ListOwned returns the newest items published by (or, for submissions, addressed to) ownerID.
func (r *ContentRepository) ListOwned(ctx context.Context, ct models.ContentType, ownerID string, limit int) ([]models.ContentItem, error) {
	src, err := sourceFor(ct)
	if err != nil {
		return nil, err
	}
	query := src.selectFrom + fmt.Sprintf(` WHERE %[2]s = $1 ORDER BY %[1]s.created_at DESC, %[1]s.id DESC LIMIT $2`, src.alias, src.owner)
	items, err := r.selectItems(ctx, ct, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list owned %s: %w", ct, err)
	}
	return items, nil
}

// CountOwned counts items owned by ownerID, optionally restricted to visible ones.
func (r *ContentRepository) CountOwned(ctx context.Context, ct models.ContentType, ownerID string, visibleOnly bool) (int, error) {
	src, err := sourceFor(ct)
	if err != nil {
		return 0, err
	}
	query := `SELECT COUNT(*) FROM (` + src.selectFrom + fmt.Sprintf(` WHERE %s = $1`, src.owner)
	if visibleOnly {
		query += ` AND ` + src.visible
	}
	query += `) owned`
	var count int
	if err := r.db.GetContext(ctx, &count, query, ownerID); err != nil {
		return 0, fmt.Errorf("count owned %s: %w", ct, err)
	}
	return count, nil
}

// SubmittedAssignmentIDs lists assignments the student already submitted.
func (r *ContentRepository) SubmittedAssignmentIDs(ctx context.Context, studentID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT assignment_id FROM submissions WHERE student_id = $1`, studentID); err != nil {
		return nil, fmt.Errorf("list submitted assignments: %w", err)
	}
	return ids, nil
}

// CountPendingGrading counts submissions to the faculty's assignments without a grade.
func (r *ContentRepository) CountPendingGrading(ctx context.Context, facultyID string) (int, error) {
	const query = `SELECT COUNT(*) FROM submissions s
JOIN assignments a ON a.id = s.assignment_id
LEFT JOIN grades gr ON gr.submission_id = s.id
WHERE a.faculty_id = $1 AND gr.id IS NULL`
	var count int
	if err := r.db.GetContext(ctx, &count, query, facultyID); err != nil {
		return 0, fmt.Errorf("count pending grading: %w", err)
	}
	return count, nil
}

// CountSubmissionsSince counts submissions to the faculty's assignments received after since.
func (r *ContentRepository) CountSubmissionsSince(ctx context.Context, facultyID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM submissions s
JOIN assignments a ON a.id = s.assignment_id
WHERE a.faculty_id = $1 AND s.submitted_at >= $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, facultyID, since); err != nil {
		return 0, fmt.Errorf("count recent submissions: %w", err)
	}
	return count, nil
}
