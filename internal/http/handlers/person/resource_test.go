package person

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aanand-mishra/persons-api/internal/logger"
	"github.com/aanand-mishra/persons-api/internal/storage"
	"github.com/aanand-mishra/persons-api/internal/storage/sqlstore"
	"github.com/aanand-mishra/persons-api/internal/types"
)

const (
	sqlSelectByID = `SELECT id, name, age FROM persons WHERE id = \?`
	sqlSelectAll  = `SELECT id, name, age FROM persons ORDER BY id`
	sqlSearch     = `SELECT id, name, age FROM persons WHERE LOWER\(name\) LIKE \?`
	sqlInsert     = `INSERT INTO persons \(name, age\) VALUES \(\?, \?\) RETURNING id`
	sqlUpdate     = `UPDATE persons SET name = \?, age = \? WHERE id = \?`
	sqlDelete     = `DELETE FROM persons WHERE id = \?`
)

var personColumns = []string{"id", "name", "age"}

// newMockResource returns a Resource over a sqlmock pool. The cleanup
// asserts that every expectation was met and that no connection is left
// checked out.
func newMockResource(t *testing.T) (*Resource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.Equal(t, 0, db.Stats().InUse, "persistence context leaked")
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	provider := sqlstore.NewWithDB(sqlx.NewDb(db, "sqlmock"))
	return NewResource(provider, logger.Nop()), mock
}

func TestResource_ListNeverBegins(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectQuery(sqlSelectAll).WillReturnRows(
		sqlmock.NewRows(personColumns).AddRow(1, "Ahmed", 21).AddRow(2, "Sara", 23))

	persons, err := res.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.Person{{ID: 1, Name: "Ahmed", Age: 21}, {ID: 2, Name: "Sara", Age: 23}}, persons)
}

func TestResource_Get(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectQuery(sqlSelectByID).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(personColumns).AddRow(1, "Ahmed", 21))

	person, found, err := res.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, types.Person{ID: 1, Name: "Ahmed", Age: 21}, person)
}

func TestResource_GetNotFound(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectQuery(sqlSelectByID).WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows(personColumns))

	_, found, err := res.Get(context.Background(), 9)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResource_GetStoreFailure(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectQuery(sqlSelectByID).WithArgs(int64(1)).WillReturnError(errors.New("connection reset"))

	_, found, err := res.Get(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, found)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, OpGet, perr.Op)
	assert.Equal(t, int64(1), perr.ID)
	assert.Contains(t, err.Error(), "persistence error:")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestResource_SearchBlankIsList(t *testing.T) {
	for _, name := range []string{"", "   "} {
		t.Run("name="+name, func(t *testing.T) {
			res, mock := newMockResource(t)
			mock.ExpectQuery(sqlSelectAll).WillReturnRows(sqlmock.NewRows(personColumns).AddRow(1, "Ahmed", 21))

			persons, err := res.Search(context.Background(), name)
			require.NoError(t, err)
			assert.Len(t, persons, 1)
		})
	}
}

func TestResource_SearchTrimsAndEscapes(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectQuery(sqlSearch).WithArgs(`%sa\_ra%`).WillReturnRows(sqlmock.NewRows(personColumns))

	persons, err := res.Search(context.Background(), "  Sa_ra ")
	require.NoError(t, err)
	assert.NotNil(t, persons)
	assert.Empty(t, persons)
}

func TestResource_CreateCommits(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectBegin()
	mock.ExpectQuery(sqlInsert).WithArgs("Ahmed", 21).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	created, err := res.Create(context.Background(), types.Person{ID: 77, Name: "Ahmed", Age: 21})
	require.NoError(t, err)
	assert.Equal(t, types.Person{ID: 1, Name: "Ahmed", Age: 21}, created)
}

func TestResource_CreateRollsBackOnInsertFailure(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectBegin()
	mock.ExpectQuery(sqlInsert).WithArgs("Ahmed", 21).WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	_, err := res.Create(context.Background(), types.Person{Name: "Ahmed", Age: 21})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constraint violation")
}

func TestResource_CreateCommitFailureDoesNotRollBack(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectBegin()
	mock.ExpectQuery(sqlInsert).WithArgs("Ahmed", 21).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit().WillReturnError(errors.New("commit failed"))

	_, err := res.Create(context.Background(), types.Person{Name: "Ahmed", Age: 21})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit failed")
}

func TestResource_CreateBeginFailure(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := res.Create(context.Background(), types.Person{Name: "Ahmed", Age: 21})
	require.Error(t, err)
	var perr *PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestResource_UpdateCommits(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectQuery(sqlSelectByID).WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(personColumns).AddRow(2, "Sara", 23))
	mock.ExpectBegin()
	mock.ExpectExec(sqlUpdate).WithArgs("Sara", 24, int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, found, err := res.Update(context.Background(), 2, types.Person{ID: 99, Name: "Sara", Age: 24})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, types.Person{ID: 2, Name: "Sara", Age: 24}, updated)
}

func TestResource_UpdateNotFoundNeverBegins(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectQuery(sqlSelectByID).WithArgs(int64(5)).WillReturnRows(sqlmock.NewRows(personColumns))

	_, found, err := res.Update(context.Background(), 5, types.Person{Name: "X", Age: 1})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResource_UpdateRollsBackOnFailure(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectQuery(sqlSelectByID).WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(personColumns).AddRow(2, "Sara", 23))
	mock.ExpectBegin()
	mock.ExpectExec(sqlUpdate).WithArgs("Sara", 24, int64(2)).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, found, err := res.Update(context.Background(), 2, types.Person{Name: "Sara", Age: 24})
	require.Error(t, err)
	assert.True(t, found)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, OpUpdate, perr.Op)
	assert.Equal(t, int64(2), perr.ID)
}

func TestResource_UpdateRowVanishedRollsBack(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectQuery(sqlSelectByID).WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(personColumns).AddRow(2, "Sara", 23))
	mock.ExpectBegin()
	mock.ExpectExec(sqlUpdate).WithArgs("Sara", 24, int64(2)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, _, err := res.Update(context.Background(), 2, types.Person{Name: "Sara", Age: 24})
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestResource_DeleteCommits(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectQuery(sqlSelectByID).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(personColumns).AddRow(1, "Ahmed", 21))
	mock.ExpectBegin()
	mock.ExpectExec(sqlDelete).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	found, err := res.Delete(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestResource_DeleteNotFoundNeverBegins(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectQuery(sqlSelectByID).WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows(personColumns))

	found, err := res.Delete(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResource_DeleteRollsBackOnFailure(t *testing.T) {
	res, mock := newMockResource(t)
	mock.ExpectQuery(sqlSelectByID).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(personColumns).AddRow(1, "Ahmed", 21))
	mock.ExpectBegin()
	mock.ExpectExec(sqlDelete).WithArgs(int64(1)).WillReturnError(errors.New("foreign key"))
	mock.ExpectRollback()

	found, err := res.Delete(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, found)
}

// The fakes below let tests observe lifecycle calls that a real driver
// hides, such as panics inside a transaction body.

type fakeProvider struct {
	session *fakeSession
	err     error
}

func (p *fakeProvider) Acquire(context.Context) (storage.Session, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.session, nil
}

func (p *fakeProvider) Close() error { return nil }

type fakeSession struct {
	storage.Session
	tx     *fakeTx
	closed int
}

func (s *fakeSession) Begin(context.Context) (storage.Tx, error) {
	s.tx.active = true
	return s.tx, nil
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeTx struct {
	storage.Tx
	active     bool
	commits    int
	rollbacks  int
	persist    func(*types.Person) error
	persistErr error
}

func (t *fakeTx) Persist(ctx context.Context, p *types.Person) error {
	t.persistErr = ctx.Err()
	return t.persist(p)
}

func (t *fakeTx) Active() bool {
	return t.active
}

func (t *fakeTx) Commit() error {
	t.active = false
	t.commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	t.active = false
	t.rollbacks++
	return nil
}

func TestResource_PanicRollsBackAndReleases(t *testing.T) {
	tx := &fakeTx{persist: func(*types.Person) error { panic("driver bug") }}
	sess := &fakeSession{tx: tx}
	res := NewResource(&fakeProvider{session: sess}, logger.Nop())

	assert.PanicsWithValue(t, "driver bug", func() {
		_, _ = res.Create(context.Background(), types.Person{Name: "Ahmed", Age: 21})
	})
	assert.Equal(t, 1, tx.rollbacks)
	assert.Equal(t, 1, sess.closed)
}

func TestResource_AcquireFailure(t *testing.T) {
	res := NewResource(&fakeProvider{err: errors.New("pool closed")}, logger.Nop())

	_, err := res.List(context.Background())
	require.Error(t, err)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, OpList, perr.Op)
}

func TestResource_SessionClosedOnceOnSuccess(t *testing.T) {
	tx := &fakeTx{persist: func(p *types.Person) error { p.ID = 3; return nil }}
	sess := &fakeSession{tx: tx}
	res := NewResource(&fakeProvider{session: sess}, logger.Nop())

	created, err := res.Create(context.Background(), types.Person{Name: "Ahmed", Age: 21})
	require.NoError(t, err)
	assert.Equal(t, int64(3), created.ID)
	assert.Equal(t, 0, tx.rollbacks)
	assert.Equal(t, 1, sess.closed)
}

func TestResource_WriteIgnoresRequestCancellation(t *testing.T) {
	tx := &fakeTx{persist: func(p *types.Person) error { p.ID = 1; return nil }}
	sess := &fakeSession{tx: tx}
	res := NewResource(&fakeProvider{session: sess}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := res.Create(ctx, types.Person{Name: "Ahmed", Age: 21})
	require.NoError(t, err)
	assert.NoError(t, tx.persistErr, "transaction body must not see request cancellation")
	assert.Equal(t, 1, tx.commits)
	assert.Equal(t, 1, sess.closed)
}
