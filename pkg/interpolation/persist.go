package interpolation

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"krigcache/pkg/geometry"
	"krigcache/pkg/store"
)

// Only samples and model kinds are persisted; models are rebuilt on load,
// which reproduces the coefficients bit for bit.

func putMatrix(db *store.Database, key string, m *mat.Dense) error {
	r, c := m.Dims()
	if err := db.PutIntArray(key+"Dims", []int{r, c}); err != nil {
		return err
	}
	return db.PutDoubleArray(key, geometry.Flatten(m))
}

func getMatrix(db *store.Database, key string) (*mat.Dense, error) {
	dims, err := db.GetIntArray(key + "Dims")
	if err != nil {
		return nil, err
	}
	data, err := db.GetDoubleArray(key)
	if err != nil {
		return nil, err
	}
	if len(dims) != 2 || dims[0]*dims[1] != len(data) {
		return nil, fmt.Errorf("matrix %q: %d elements do not match dims %v", key, len(data), dims)
	}
	return mat.NewDense(dims[0], dims[1], data), nil
}

func putPoints(db *store.Database, key string, points []geometry.Point) error {
	var flat []float64
	for _, p := range points {
		flat = append(flat, p...)
	}
	return db.PutDoubleArray(key, flat)
}

func getPoints(db *store.Database, key string, n, dim int) ([]geometry.Point, error) {
	flat, err := db.GetDoubleArray(key)
	if err != nil {
		return nil, err
	}
	if len(flat) != n*dim {
		return nil, fmt.Errorf("%q: expected %d coordinates, got %d", key, n*dim, len(flat))
	}
	points := make([]geometry.Point, n)
	for i := range points {
		points[i] = geometry.Point(flat[i*dim : (i+1)*dim]).Clone()
	}
	return points, nil
}

func putKinds(db *store.Database, regression RegressionModel, correlation *CorrelationModel) error {
	if err := db.PutInt("regression", int(regression.Kind)); err != nil {
		return err
	}
	if err := db.PutInt("correlation", int(correlation.Kind())); err != nil {
		return err
	}
	return db.PutDoubleArray("thetas", correlation.Thetas())
}

func getKinds(db *store.Database) (RegressionModel, *CorrelationModel, error) {
	rk, err := db.GetInt("regression")
	if err != nil {
		return RegressionModel{}, nil, err
	}
	ck, err := db.GetInt("correlation")
	if err != nil {
		return RegressionModel{}, nil, err
	}
	thetas, err := db.GetDoubleArray("thetas")
	if err != nil {
		return RegressionModel{}, nil, err
	}
	corr, err := NewCorrelationModel(CorrelationKind(ck), thetas)
	if err != nil {
		return RegressionModel{}, nil, err
	}
	return RegressionModel{Kind: RegressionKind(rk)}, corr, nil
}

// PutToDatabase stores the samples and model kinds.
func (k *KrigingModel) PutToDatabase(db *store.Database) error {
	if err := putKinds(db, k.regression, k.correlation); err != nil {
		return err
	}
	if err := db.PutInt("dim", k.dim); err != nil {
		return err
	}
	if err := db.PutInt("numberPoints", len(k.points)); err != nil {
		return err
	}
	if err := putPoints(db, "points", k.points); err != nil {
		return err
	}
	var flat []float64
	for _, v := range k.values {
		flat = append(flat, v...)
	}
	return db.PutDoubleArray("values", flat)
}

// GetKrigingModelFromDatabase restores a model written by PutToDatabase and
// rebuilds it when it has samples.
func GetKrigingModelFromDatabase(db *store.Database) (*KrigingModel, error) {
	regression, corr, err := getKinds(db)
	if err != nil {
		return nil, err
	}
	dim, err := db.GetInt("dim")
	if err != nil {
		return nil, err
	}
	km, err := NewKrigingModel(dim, regression, corr)
	if err != nil {
		return nil, err
	}
	n, err := db.GetInt("numberPoints")
	if err != nil {
		return nil, err
	}
	points, err := getPoints(db, "points", n, dim)
	if err != nil {
		return nil, err
	}
	flat, err := db.GetDoubleArray("values")
	if err != nil {
		return nil, err
	}
	c := km.Components()
	if len(flat) != n*c {
		return nil, fmt.Errorf("values: expected %d components, got %d", n*c, len(flat))
	}
	for i, p := range points {
		km.AddPoint(p, geometry.Value(flat[i*c:(i+1)*c]))
	}
	if n > 0 {
		if err := km.Build(); err != nil {
			return nil, err
		}
	}
	return km, nil
}

// PutToDatabase stores the samples, including gradients, and model kinds.
func (m *MultivariateKrigingModel) PutToDatabase(db *store.Database) error {
	if err := putKinds(db, m.regression, m.correlation); err != nil {
		return err
	}
	if err := db.PutIntArray("dims", []int{m.pointDim, m.valueDim}); err != nil {
		return err
	}
	if err := db.PutInt("numberPoints", len(m.points)); err != nil {
		return err
	}
	if err := putPoints(db, "points", m.points); err != nil {
		return err
	}
	var values, gradients []float64
	for i := range m.points {
		values = append(values, m.values[i]...)
		if m.derivative {
			gradients = append(gradients, geometry.Flatten(m.gradients[i])...)
		}
	}
	if err := db.PutDoubleArray("values", values); err != nil {
		return err
	}
	return db.PutDoubleArray("gradients", gradients)
}

// GetMultivariateKrigingModelFromDatabase restores and rebuilds a model
// written by PutToDatabase.
func GetMultivariateKrigingModelFromDatabase(db *store.Database) (*MultivariateKrigingModel, error) {
	regression, corr, err := getKinds(db)
	if err != nil {
		return nil, err
	}
	return getMultivariateSamples(db, regression, corr)
}

// GetSharedMultivariateKrigingModelFromDatabase restores a model written by
// PutToDatabase and rebuilds it on the given regression and correlation
// models, which the caller shares between many models. The stored kinds and
// thetas must match them.
func GetSharedMultivariateKrigingModelFromDatabase(db *store.Database, regression RegressionModel, correlation *CorrelationModel) (*MultivariateKrigingModel, error) {
	storedRegression, storedCorr, err := getKinds(db)
	if err != nil {
		return nil, err
	}
	if storedRegression.Kind != regression.Kind ||
		storedCorr.Kind() != correlation.Kind() ||
		!floats.Equal(storedCorr.Thetas(), correlation.Thetas()) {
		return nil, fmt.Errorf("%w: stored %s/%s θ=%v, expected %s/%s θ=%v", ErrIncompatibleModels,
			storedRegression.Kind, storedCorr.Kind(), storedCorr.Thetas(),
			regression.Kind, correlation.Kind(), correlation.Thetas())
	}
	return getMultivariateSamples(db, regression, correlation)
}

func getMultivariateSamples(db *store.Database, regression RegressionModel, corr *CorrelationModel) (*MultivariateKrigingModel, error) {
	dims, err := db.GetIntArray("dims")
	if err != nil {
		return nil, err
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("dims: expected 2 entries, got %d", len(dims))
	}
	pd, vd := dims[0], dims[1]
	m, err := NewMultivariateKrigingModel(pd, vd, regression, corr)
	if err != nil {
		return nil, err
	}
	n, err := db.GetInt("numberPoints")
	if err != nil {
		return nil, err
	}
	points, err := getPoints(db, "points", n, pd)
	if err != nil {
		return nil, err
	}
	values, err := db.GetDoubleArray("values")
	if err != nil {
		return nil, err
	}
	gradients, err := db.GetDoubleArray("gradients")
	if err != nil {
		return nil, err
	}
	if len(values) != n*vd {
		return nil, fmt.Errorf("values: expected %d entries, got %d", n*vd, len(values))
	}
	if m.derivative && len(gradients) != n*vd*pd {
		return nil, fmt.Errorf("gradients: expected %d entries, got %d", n*vd*pd, len(gradients))
	}
	for i, p := range points {
		var grad *mat.Dense
		if m.derivative {
			grad = mat.NewDense(vd, pd, append([]float64(nil), gradients[i*vd*pd:(i+1)*vd*pd]...))
		}
		m.AddPoint(p, values[i*vd:(i+1)*vd], grad)
	}
	if n > 0 {
		if err := m.Build(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// PutToDatabase stores the full mutable state of the ellipsoid. The shared
// configuration is stored by the owner of the config.
func (e *EllipsoidModel) PutToDatabase(db *store.Database) error {
	if err := db.PutDoubleArray("point", e.point); err != nil {
		return err
	}
	if err := db.PutDoubleArray("value", e.value); err != nil {
		return err
	}
	if err := putMatrix(db, "jacobian", e.jacobian); err != nil {
		return err
	}
	return putMatrix(db, "shape", e.shape)
}

// GetEllipsoidFromDatabase restores an ellipsoid written by PutToDatabase.
func GetEllipsoidFromDatabase(db *store.Database, cfg *EllipsoidConfig) (*EllipsoidModel, error) {
	point, err := db.GetDoubleArray("point")
	if err != nil {
		return nil, err
	}
	value, err := db.GetDoubleArray("value")
	if err != nil {
		return nil, err
	}
	jac, err := getMatrix(db, "jacobian")
	if err != nil {
		return nil, err
	}
	shape, err := getMatrix(db, "shape")
	if err != nil {
		return nil, err
	}
	jr, jc := jac.Dims()
	sr, sc := shape.Dims()
	if jr != len(value) || jc != len(point) || sr != len(value) || sc != len(value) {
		return nil, fmt.Errorf("ellipsoid: inconsistent dimensions point=%d value=%d jacobian=%dx%d shape=%dx%d",
			len(point), len(value), jr, jc, sr, sc)
	}
	return &EllipsoidModel{
		cfg:      cfg,
		point:    geometry.Point(point),
		value:    geometry.Value(value),
		jacobian: jac,
		shape:    shape,
	}, nil
}

// PutToDatabase stores the ellipsoid parameters.
func (c *EllipsoidConfig) PutToDatabase(db *store.Database) error {
	p := c.params
	return db.PutDoubleArray("ellipsoid", []float64{
		p.ShapeExponent, p.GrowthHeadroom, p.GrowthExponent, p.MaxInputDistance, p.InitialEpsilon,
	})
}

// GetEllipsoidConfigFromDatabase restores and validates stored parameters.
func GetEllipsoidConfigFromDatabase(db *store.Database) (*EllipsoidConfig, error) {
	v, err := db.GetDoubleArray("ellipsoid")
	if err != nil {
		return nil, err
	}
	if len(v) != 5 {
		return nil, fmt.Errorf("ellipsoid: expected 5 parameters, got %d", len(v))
	}
	return NewEllipsoidConfig(EllipsoidParams{
		ShapeExponent:    v[0],
		GrowthHeadroom:   v[1],
		GrowthExponent:   v[2],
		MaxInputDistance: v[3],
		InitialEpsilon:   v[4],
	})
}
