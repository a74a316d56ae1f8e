package model

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestQueryValidate_OK(t *testing.T) {
	q := Query{Year: 2018, Make: "Honda", Model: "Civic"}
	assert.NoError(t, q.Validate())
}

func TestQueryValidate_NextModelYear(t *testing.T) {
	q := Query{Year: time.Now().Year() + 1, Make: "Toyota", Model: "Camry"}
	assert.NoError(t, q.Validate())
}

func TestQueryValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		q    Query
	}{
		{"empty make", Query{Year: 2018, Make: " ", Model: "Civic"}},
		{"empty model", Query{Year: 2018, Make: "Honda", Model: ""}},
		{"year too old", Query{Year: 1899, Make: "Honda", Model: "Civic"}},
		{"year too new", Query{Year: time.Now().Year() + 2, Make: "Honda", Model: "Civic"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.q.Validate()
			assert.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalidQuery))
		})
	}
}

func TestQueryKey_CaseFolds(t *testing.T) {
	a := Query{Year: 2015, Make: "Ford", Model: "F-150"}
	b := Query{Year: 2015, Make: "ford ", Model: " f-150"}

	ay, am, amo := a.Key()
	by, bm, bmo := b.Key()
	assert.Equal(t, ay, by)
	assert.Equal(t, am, bm)
	assert.Equal(t, amo, bmo)
}
