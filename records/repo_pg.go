package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	derrors "github.com/clinimage/imagingd/errors"
)

// NewStore builds a Store backed by PostgreSQL.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Orders:   &orderRepoPG{pool: pool},
		Studies:  &studyRepoPG{pool: pool},
		Series:   &seriesRepoPG{pool: pool},
		Images:   &imageRepoPG{pool: pool},
		Reports:  &reportRepoPG{pool: pool},
		Audit:    &auditRepoPG{pool: pool},
		WithinTx: withinPoolTx(pool),
	}
}

func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return derrors.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return derrors.ErrDuplicate
	}
	return err
}

// -- Orders --

type orderRepoPG struct {
	pool *pgxpool.Pool
}

const orderCols = `id, patient_id, patient_name, patient_birth_date, patient_sex,
	procedure_description, modality, scheduled_date, scheduled_time,
	station_ae_title, requesting_physician, requested_procedure_id,
	scheduled_step_id, accession_number, published_at, created_at, updated_at`

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO orders (
			id, patient_id, patient_name, patient_birth_date, patient_sex,
			procedure_description, modality, scheduled_date, scheduled_time,
			station_ae_title, requesting_physician, requested_procedure_id,
			scheduled_step_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, o.PatientID, o.PatientName, o.PatientBirthDate, o.PatientSex,
		o.ProcedureDescription, o.Modality, o.ScheduledDate, o.ScheduledTime,
		o.StationAETitle, o.RequestingPhysician, o.RequestedProcedureID,
		o.ScheduledStepID,
	)
	return mapPGError(err)
}

func scanOrder(row pgx.Row) (*Order, error) {
	o := &Order{}
	var accession *string
	err := row.Scan(&o.ID, &o.PatientID, &o.PatientName, &o.PatientBirthDate, &o.PatientSex,
		&o.ProcedureDescription, &o.Modality, &o.ScheduledDate, &o.ScheduledTime,
		&o.StationAETitle, &o.RequestingPhysician, &o.RequestedProcedureID,
		&o.ScheduledStepID, &accession, &o.PublishedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, mapPGError(err)
	}
	if accession != nil {
		o.AccessionNumber = *accession
	}
	return o, nil
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return scanOrder(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
}

func (r *orderRepoPG) GetByAccession(ctx context.Context, accession string) (*Order, error) {
	return scanOrder(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE accession_number = $1`, accession))
}

func (r *orderRepoPG) ListPublished(ctx context.Context, filter OrderFilter) ([]*Order, error) {
	query := `SELECT ` + orderCols + ` FROM orders WHERE published_at IS NOT NULL`
	args := []interface{}{}
	idx := 1

	add := func(clause, value string) {
		if value == "" {
			return
		}
		query += fmt.Sprintf(" AND %s = $%d", clause, idx)
		args = append(args, value)
		idx++
	}

	if filter.DateFrom != "" {
		query += fmt.Sprintf(" AND scheduled_date >= $%d", idx)
		args = append(args, filter.DateFrom)
		idx++
	}
	if filter.DateTo != "" {
		query += fmt.Sprintf(" AND scheduled_date <= $%d", idx)
		args = append(args, filter.DateTo)
		idx++
	}
	add("modality", filter.Modality)
	add("patient_id", filter.PatientID)
	add("accession_number", filter.AccessionNumber)
	add("station_ae_title", filter.StationAETitle)
	if filter.PatientName != "" {
		// DICOM wildcard matching: * and ? map onto SQL LIKE
		query += fmt.Sprintf(" AND patient_name LIKE $%d", idx)
		args = append(args, dicomNameToLike(filter.PatientName))
		idx++
	}

	query += ` ORDER BY scheduled_date, scheduled_time`

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func dicomNameToLike(pattern string) string {
	out := make([]rune, 0, len(pattern))
	for _, r := range pattern {
		switch r {
		case '*':
			out = append(out, '%')
		case '?':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func (r *orderRepoPG) Publish(ctx context.Context, id uuid.UUID, accession string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE orders
		SET accession_number = $2, published_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND published_at IS NULL`,
		id, accession)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already published; disambiguate for the caller.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return derrors.ErrDuplicate
	}
	return nil
}

// -- Studies --

type studyRepoPG struct {
	pool *pgxpool.Pool
}

const studyCols = `id, study_instance_uid, accession_number, patient_id, patient_name,
	study_date, study_time, description, unmatched, order_id, created_at, updated_at`

func scanStudy(row pgx.Row) (*Study, error) {
	s := &Study{}
	var accession *string
	err := row.Scan(&s.ID, &s.StudyInstanceUID, &accession, &s.PatientID, &s.PatientName,
		&s.StudyDate, &s.StudyTime, &s.Description, &s.Unmatched, &s.OrderID,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, mapPGError(err)
	}
	if accession != nil {
		s.AccessionNumber = *accession
	}
	return s, nil
}

func (r *studyRepoPG) CreateIfAbsent(ctx context.Context, s *Study) (*Study, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	var accession *string
	if s.AccessionNumber != "" {
		accession = &s.AccessionNumber
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO studies (
			id, study_instance_uid, accession_number, patient_id, patient_name,
			study_date, study_time, description, unmatched, order_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (study_instance_uid) DO NOTHING`,
		s.ID, s.StudyInstanceUID, accession, s.PatientID, s.PatientName,
		s.StudyDate, s.StudyTime, s.Description, s.Unmatched, s.OrderID,
	)
	if err != nil {
		return nil, mapPGError(err)
	}
	return r.GetByUID(ctx, s.StudyInstanceUID)
}

func (r *studyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Study, error) {
	return scanStudy(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+studyCols+` FROM studies WHERE id = $1`, id))
}

func (r *studyRepoPG) GetByUID(ctx context.Context, studyInstanceUID string) (*Study, error) {
	return scanStudy(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+studyCols+` FROM studies WHERE study_instance_uid = $1`, studyInstanceUID))
}

func (r *studyRepoPG) GetByAccession(ctx context.Context, accession string) (*Study, error) {
	return scanStudy(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+studyCols+` FROM studies WHERE accession_number = $1`, accession))
}

func (r *studyRepoPG) ListUnmatched(ctx context.Context) ([]*Study, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+studyCols+` FROM studies WHERE unmatched ORDER BY created_at`)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var studies []*Study
	for rows.Next() {
		s, err := scanStudy(rows)
		if err != nil {
			return nil, err
		}
		studies = append(studies, s)
	}
	return studies, rows.Err()
}

// -- Series --

type seriesRepoPG struct {
	pool *pgxpool.Pool
}

const seriesCols = `id, series_instance_uid, study_id, modality, series_number,
	description, body_part, created_at, updated_at`

func scanSeries(row pgx.Row) (*Series, error) {
	s := &Series{}
	err := row.Scan(&s.ID, &s.SeriesInstanceUID, &s.StudyID, &s.Modality,
		&s.SeriesNumber, &s.Description, &s.BodyPart, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, mapPGError(err)
	}
	return s, nil
}

func (r *seriesRepoPG) CreateIfAbsent(ctx context.Context, s *Series) (*Series, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO series (
			id, series_instance_uid, study_id, modality, series_number,
			description, body_part
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (series_instance_uid) DO NOTHING`,
		s.ID, s.SeriesInstanceUID, s.StudyID, s.Modality, s.SeriesNumber,
		s.Description, s.BodyPart,
	)
	if err != nil {
		return nil, mapPGError(err)
	}
	return r.GetByUID(ctx, s.SeriesInstanceUID)
}

func (r *seriesRepoPG) GetByUID(ctx context.Context, seriesInstanceUID string) (*Series, error) {
	return scanSeries(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+seriesCols+` FROM series WHERE series_instance_uid = $1`, seriesInstanceUID))
}

func (r *seriesRepoPG) ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*Series, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+seriesCols+` FROM series WHERE study_id = $1 ORDER BY series_number`, studyID)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var series []*Series
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		series = append(series, s)
	}
	return series, rows.Err()
}

// -- Images --

type imageRepoPG struct {
	pool *pgxpool.Pool
}

const imageCols = `id, sop_instance_uid, sop_class_uid, series_id, instance_number,
	transfer_syntax_uid, file_path, thumbnail_path, transcode_failed, size_bytes, received_at`

func scanImage(row pgx.Row) (*Image, error) {
	img := &Image{}
	var thumb *string
	err := row.Scan(&img.ID, &img.SOPInstanceUID, &img.SOPClassUID, &img.SeriesID,
		&img.InstanceNumber, &img.TransferSyntaxUID, &img.FilePath, &thumb,
		&img.TranscodeFailed, &img.SizeBytes, &img.ReceivedAt)
	if err != nil {
		return nil, mapPGError(err)
	}
	if thumb != nil {
		img.ThumbnailPath = *thumb
	}
	return img, nil
}

func (r *imageRepoPG) Create(ctx context.Context, img *Image) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO images (
			id, sop_instance_uid, sop_class_uid, series_id, instance_number,
			transfer_syntax_uid, file_path, transcode_failed, size_bytes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		img.ID, img.SOPInstanceUID, img.SOPClassUID, img.SeriesID, img.InstanceNumber,
		img.TransferSyntaxUID, img.FilePath, img.TranscodeFailed, img.SizeBytes,
	)
	return mapPGError(err)
}

func (r *imageRepoPG) GetBySOPInstanceUID(ctx context.Context, sopInstanceUID string) (*Image, error) {
	return scanImage(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+imageCols+` FROM images WHERE sop_instance_uid = $1`, sopInstanceUID))
}

func (r *imageRepoPG) ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]*Image, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+imageCols+` FROM images WHERE series_id = $1 ORDER BY instance_number`, seriesID)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var images []*Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (r *imageRepoPG) SetThumbnailPath(ctx context.Context, id uuid.UUID, path string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE images SET thumbnail_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return derrors.ErrNotFound
	}
	return nil
}

func (r *imageRepoPG) TotalSizeBytes(ctx context.Context) (int64, error) {
	var total int64
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM images`).Scan(&total)
	if err != nil {
		return 0, mapPGError(err)
	}
	return total, nil
}

// -- Reports --

type reportRepoPG struct {
	pool *pgxpool.Pool
}

const reportCols = `id, study_id, version, superseded_by, state, report_number,
	physician, findings, conclusion, validated_at, validated_by, archived_at,
	created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	rep := &Report{}
	var state string
	var validatedBy *string
	err := row.Scan(&rep.ID, &rep.StudyID, &rep.Version, &rep.SupersededBy, &state,
		&rep.ReportNumber, &rep.Physician, &rep.Findings, &rep.Conclusion,
		&rep.ValidatedAt, &validatedBy, &rep.ArchivedAt, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return nil, mapPGError(err)
	}
	rep.State = ReportState(state)
	if validatedBy != nil {
		rep.ValidatedBy = *validatedBy
	}
	return rep, nil
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO reports (
			id, study_id, version, state, report_number, physician, findings, conclusion
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rep.ID, rep.StudyID, rep.Version, string(rep.State), rep.ReportNumber,
		rep.Physician, rep.Findings, rep.Conclusion,
	)
	return mapPGError(err)
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return scanReport(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+reportCols+` FROM reports WHERE id = $1`, id))
}

func (r *reportRepoPG) GetActiveByStudy(ctx context.Context, studyID uuid.UUID) (*Report, error) {
	return scanReport(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+reportCols+` FROM reports WHERE study_id = $1 AND superseded_by IS NULL`, studyID))
}

func (r *reportRepoPG) Update(ctx context.Context, rep *Report) error {
	var validatedBy *string
	if rep.ValidatedBy != "" {
		validatedBy = &rep.ValidatedBy
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE reports
		SET superseded_by = $2, state = $3, physician = $4, findings = $5,
			conclusion = $6, validated_at = $7, validated_by = $8,
			archived_at = $9, updated_at = NOW()
		WHERE id = $1`,
		rep.ID, rep.SupersededBy, string(rep.State), rep.Physician, rep.Findings,
		rep.Conclusion, rep.ValidatedAt, validatedBy, rep.ArchivedAt,
	)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return derrors.ErrNotFound
	}
	return nil
}

func (r *reportRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return derrors.ErrNotFound
	}
	return nil
}

func (r *reportRepoPG) ListVersions(ctx context.Context, studyID uuid.UUID) ([]*Report, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+reportCols+` FROM reports WHERE study_id = $1 ORDER BY version`, studyID)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

// -- Audit --

type auditRepoPG struct {
	pool *pgxpool.Pool
}

func (r *auditRepoPG) Append(ctx context.Context, e *AuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_log (id, entity_kind, entity_id, action, actor, detail)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.EntityKind, e.EntityID, e.Action, e.Actor, e.Detail,
	)
	return mapPGError(err)
}

func (r *auditRepoPG) ListByEntity(ctx context.Context, entityKind string, entityID uuid.UUID) ([]*AuditEntry, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, entity_kind, entity_id, action, actor, detail, at
		FROM audit_log WHERE entity_kind = $1 AND entity_id = $2 ORDER BY at`,
		entityKind, entityID)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.EntityKind, &e.EntityID, &e.Action, &e.Actor, &e.Detail, &e.At); err != nil {
			return nil, mapPGError(err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
