package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tgk/sluice/internal/models"
)

func listing(fields ...models.Field) *models.Record {
	return models.New("listings", 1, fields)
}

func applyOne(t *testing.T, stage Stage, rec *models.Record) *models.Record {
	t.Helper()
	out, err := stage.Apply(rec)
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func TestDropFields(t *testing.T) {
	rec := listing(
		models.Field{Name: "price", Value: models.Int(100)},
		models.Field{Name: "municipality", Value: models.String("Oslo")},
	)
	out := applyOne(t, DropFields("municipality"), rec)
	assert.False(t, out.Has("municipality"))
	assert.True(t, out.Has("price"))

	raw := models.NewRaw("listings", 1, []byte("blob"))
	out = applyOne(t, DropFields("anything"), raw)
	assert.True(t, out.IsRaw())
}

func TestRequireFields(t *testing.T) {
	stage := RequireFields("price", "area")

	ok := listing(
		models.Field{Name: "price", Value: models.Int(100)},
		models.Field{Name: "area", Value: models.Float(50)},
	)
	applyOne(t, stage, ok)

	missing := listing(models.Field{Name: "price", Value: models.Int(100)})
	_, err := stage.Apply(missing)
	assert.Error(t, err)

	null := listing(
		models.Field{Name: "price", Value: models.Int(100)},
		models.Field{Name: "area", Value: models.Nil()},
	)
	_, err = stage.Apply(null)
	assert.Error(t, err)
}

func TestRenameField(t *testing.T) {
	rec := listing(
		models.Field{Name: "a", Value: models.Int(1)},
		models.Field{Name: "old", Value: models.String("v")},
		models.Field{Name: "z", Value: models.Int(2)},
	)
	out := applyOne(t, RenameField("old", "new"), rec)
	fields := out.Fields()
	require.Len(t, fields, 3)
	// Position is preserved.
	assert.Equal(t, "new", fields[1].Name)
	assert.Equal(t, "v", fields[1].Value.Str())

	// Records without the field pass through.
	out = applyOne(t, RenameField("absent", "new"), listing())
	assert.Equal(t, 0, out.Len())
}

func TestCoerceNumber(t *testing.T) {
	stage := CoerceNumber("price")

	dirty := listing(models.Field{Name: "price", Value: models.String("1 250 000 kr")})
	out := applyOne(t, stage, dirty)
	v, _ := out.Get("price")
	assert.Equal(t, 1250000.0, v.Float())

	// Already numeric values pass through untouched.
	numeric := listing(models.Field{Name: "price", Value: models.Int(99)})
	out = applyOne(t, stage, numeric)
	v, _ = out.Get("price")
	assert.Equal(t, models.KindInt, v.Kind())

	garbage := listing(models.Field{Name: "price", Value: models.String("pris på forespørsel")})
	_, err := stage.Apply(garbage)
	assert.Error(t, err)

	absent := listing()
	_, err = stage.Apply(absent)
	assert.Error(t, err)
}

func TestMatchPattern(t *testing.T) {
	stage, err := MatchPattern("sold_date", `^\d{4}-\d{2}-\d{2}$`)
	require.NoError(t, err)

	ok := listing(models.Field{Name: "sold_date", Value: models.String("2024-03-15")})
	applyOne(t, stage, ok)

	bad := listing(models.Field{Name: "sold_date", Value: models.String("15/03/2024")})
	_, err = stage.Apply(bad)
	assert.Error(t, err)

	_, err = MatchPattern("f", `[`)
	assert.Error(t, err)
}

func TestAllowedValues(t *testing.T) {
	stage := AllowedValues("property_type", "apartment", "house", "townhouse")

	ok := listing(models.Field{Name: "property_type", Value: models.String("house")})
	applyOne(t, stage, ok)

	bad := listing(models.Field{Name: "property_type", Value: models.String("castle")})
	_, err := stage.Apply(bad)
	assert.Error(t, err)
}

func TestNumberRangeFiltersSilently(t *testing.T) {
	stage := NumberRange("area", 10, 500)

	in := listing(models.Field{Name: "area", Value: models.Float(75)})
	applyOne(t, stage, in)

	out, err := stage.Apply(listing(models.Field{Name: "area", Value: models.Float(2)}))
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = stage.Apply(listing(models.Field{Name: "area", Value: models.String("75")}))
	assert.Error(t, err)
}

func TestRatioRange(t *testing.T) {
	stage := RatioRange("price", "area", 500, 15000)

	ok := listing(
		models.Field{Name: "price", Value: models.Float(500000)},
		models.Field{Name: "area", Value: models.Float(100)},
	)
	applyOne(t, stage, ok)

	// 100 per unit: below the floor, silently filtered.
	cheap := listing(
		models.Field{Name: "price", Value: models.Float(10000)},
		models.Field{Name: "area", Value: models.Float(100)},
	)
	out, err := stage.Apply(cheap)
	require.NoError(t, err)
	assert.Nil(t, out)

	zero := listing(
		models.Field{Name: "price", Value: models.Float(10000)},
		models.Field{Name: "area", Value: models.Float(0)},
	)
	_, err = stage.Apply(zero)
	assert.Error(t, err)
}

func TestCaseStages(t *testing.T) {
	rec := listing(
		models.Field{Name: "city", Value: models.String("Bergen")},
		models.Field{Name: "n", Value: models.Int(1)},
	)
	out := applyOne(t, ToLower("city", "n", "absent"), rec)
	v, _ := out.Get("city")
	assert.Equal(t, "bergen", v.Str())
	v, _ = out.Get("n")
	assert.Equal(t, models.KindInt, v.Kind())

	out = applyOne(t, ToUpper("city"), rec)
	v, _ = out.Get("city")
	assert.Equal(t, "BERGEN", v.Str())
}
