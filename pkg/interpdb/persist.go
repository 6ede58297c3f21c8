package interpdb

import (
	"errors"
	"fmt"
	"strconv"

	"krigcache/pkg/interpolation"
	"krigcache/pkg/mtree"
	"krigcache/pkg/store"
)

const formatVersion = 1

// Save writes the options, every model and the index to db.
func (db *DB) Save(s *store.Database) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := s.PutInt("version", formatVersion); err != nil {
		return err
	}
	if err := putOptions(s, db.opts); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	if err := db.ellipsoid.PutToDatabase(s); err != nil {
		return fmt.Errorf("ellipsoid config: %w", err)
	}
	if err := s.PutInt("nextModelID", int(db.nextID)); err != nil {
		return err
	}

	ids := make([]int, 0, len(db.models))
	for id := range db.models {
		ids = append(ids, int(id))
	}
	if err := s.PutIntArray("modelIDs", ids); err != nil {
		return err
	}
	models, err := s.Child("models")
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := putModel(models, db.models[mtree.ObjectID(id)]); err != nil {
			return fmt.Errorf("model %d: %w", id, err)
		}
	}

	tree, err := s.Child("tree")
	if err != nil {
		return err
	}
	return db.tree.PutToDatabase(tree)
}

func putOptions(s *store.Database, o Options) error {
	if err := s.PutIntArray("dims", []int{o.PointDimension, o.ValueDimension}); err != nil {
		return err
	}
	if err := s.PutIntArray("limits", []int{o.MaxKrigingModelSize, o.MaxNumberSearchModels, o.MaxEntriesPerNode}); err != nil {
		return err
	}
	if err := s.PutDoubleArray("tuning", []float64{o.Theta, o.MeanErrorFactor, o.Tolerance, o.MaxQueryPointModelDistance}); err != nil {
		return err
	}
	return s.PutStringArray("kinds", []string{o.Regression.String(), o.Correlation.String()})
}

func putModel(s *store.Database, m *Model) error {
	ms, err := s.Child("model" + strconv.Itoa(int(m.ID)))
	if err != nil {
		return err
	}
	if err := ms.PutDoubleArray("anchor", m.Anchor); err != nil {
		return err
	}
	ks, err := ms.Child("kriging")
	if err != nil {
		return err
	}
	if err := m.Kriging.PutToDatabase(ks); err != nil {
		return err
	}
	es, err := ms.Child("ellipsoid")
	if err != nil {
		return err
	}
	return m.Ellipsoid.PutToDatabase(es)
}

// Load restores a database written by Save. Every kriging model is rebuilt
// and the result is checked for consistency before it is returned.
func Load(s *store.Database, options ...Option) (*DB, error) {
	version, err := s.GetInt("version")
	if err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, version)
	}
	opts, err := getOptions(s)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	ell, err := interpolation.GetEllipsoidConfigFromDatabase(s)
	if err != nil {
		return nil, fmt.Errorf("ellipsoid config: %w", err)
	}
	opts.Ellipsoid = ell.Params()

	db, err := New(opts, options...)
	if err != nil {
		return nil, err
	}
	next, err := s.GetInt("nextModelID")
	if err != nil {
		return nil, err
	}
	db.nextID = mtree.ObjectID(next)

	ids, err := s.GetIntArray("modelIDs")
	if err != nil {
		return nil, err
	}
	models, err := s.Child("models")
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		m, err := db.getModel(models, mtree.ObjectID(id))
		if err != nil {
			return nil, fmt.Errorf("model %d: %w", id, err)
		}
		db.models[m.ID] = m
	}

	ts, err := s.Child("tree")
	if err != nil {
		return nil, err
	}
	if db.tree, err = mtree.GetFromDatabase(ts, mtree.WithLogger(db.logger.WithComponent("mtree"))); err != nil {
		return nil, fmt.Errorf("tree: %w", err)
	}

	violations, err := db.CheckConsistency()
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, fmt.Errorf("%w: index has %d violations, first: %s", ErrCorrupt, len(violations), violations[0])
	}
	db.metrics.SetModels(len(db.models))
	return db, nil
}

func getOptions(s *store.Database) (Options, error) {
	var o Options
	dims, err := s.GetIntArray("dims")
	if err != nil {
		return o, err
	}
	limits, err := s.GetIntArray("limits")
	if err != nil {
		return o, err
	}
	tuning, err := s.GetDoubleArray("tuning")
	if err != nil {
		return o, err
	}
	kinds, err := s.GetStringArray("kinds")
	if err != nil {
		return o, err
	}
	if len(dims) != 2 || len(limits) != 3 || len(tuning) != 4 || len(kinds) != 2 {
		return o, fmt.Errorf("%w: malformed options", ErrCorrupt)
	}
	if o.Regression, err = interpolation.ParseRegressionKind(kinds[0]); err != nil {
		return o, err
	}
	if o.Correlation, err = interpolation.ParseCorrelationKind(kinds[1]); err != nil {
		return o, err
	}
	o.PointDimension, o.ValueDimension = dims[0], dims[1]
	o.MaxKrigingModelSize, o.MaxNumberSearchModels, o.MaxEntriesPerNode = limits[0], limits[1], limits[2]
	o.Theta, o.MeanErrorFactor, o.Tolerance, o.MaxQueryPointModelDistance = tuning[0], tuning[1], tuning[2], tuning[3]
	return o, nil
}

func (db *DB) getModel(s *store.Database, id mtree.ObjectID) (*Model, error) {
	ms, err := s.Child("model" + strconv.Itoa(int(id)))
	if err != nil {
		return nil, err
	}
	anchor, err := ms.GetDoubleArray("anchor")
	if err != nil {
		return nil, err
	}
	ks, err := ms.Child("kriging")
	if err != nil {
		return nil, err
	}
	km, err := interpolation.GetSharedMultivariateKrigingModelFromDatabase(ks, db.regression, db.correlation)
	if errors.Is(err, interpolation.ErrIncompatibleModels) {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err != nil {
		return nil, err
	}
	if km.PointDim() != db.opts.PointDimension || km.ValueDim() != db.opts.ValueDimension {
		return nil, fmt.Errorf("%w: model is %d->%d, database is %d->%d", ErrCorrupt,
			km.PointDim(), km.ValueDim(), db.opts.PointDimension, db.opts.ValueDimension)
	}
	es, err := ms.Child("ellipsoid")
	if err != nil {
		return nil, err
	}
	ell, err := interpolation.GetEllipsoidFromDatabase(es, db.ellipsoid)
	if err != nil {
		return nil, err
	}
	return &Model{ID: id, Anchor: anchor, Kriging: km, Ellipsoid: ell}, nil
}
