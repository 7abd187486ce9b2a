package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbsentValuesMarshalAsNull(t *testing.T) {
	pos := Position{X: SomeFloat(1.5)}
	data, err := json.Marshal(pos)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1.5,"y":null,"z":null,"zOffset":null}`, string(data))

	data, err = json.Marshal(PrintJob{Status: SomeInt(0), CurrentLayer: Int{}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":0`)
	assert.Contains(t, string(data), `"currentLayer":null`)
}

func TestOptionalAny(t *testing.T) {
	assert.Nil(t, Float{}.Any())
	assert.Equal(t, 0.0, SomeFloat(0).Any())
	assert.Nil(t, Int{}.Any())
	assert.Nil(t, Bool{}.Any())
	assert.Equal(t, false, SomeBool(false).Any())
	assert.Nil(t, StringFrom(nil).Any())
}

func TestVariablesScan(t *testing.T) {
	var v Variables
	require.NoError(t, v.Scan([]byte(`{"cmd":"pause"}`)))
	assert.Equal(t, "pause", v["cmd"])

	require.NoError(t, v.Scan(nil))
	assert.Empty(t, v)

	assert.Error(t, v.Scan(42))
}

func TestAlertKindValid(t *testing.T) {
	assert.True(t, AlertBedCooled.Valid())
	assert.False(t, AlertKind("on_fire").Valid())
}
