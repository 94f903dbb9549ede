package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/flatwatcher/internal/filter"
)

func TestQueryBuilderBase(t *testing.T) {
	b := NewQueryBuilder("https://www.cian.ru/cat.php", nil)

	raw, err := b.Build(filter.Filter{})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/cat.php", u.Path)

	q := u.Query()
	assert.Equal(t, "sale", q.Get("deal_type"))
	assert.Equal(t, "2", q.Get("engine_version"))
	assert.Equal(t, "flat", q.Get("offer_type"))
	assert.Equal(t, "1", q.Get("region"))
	assert.Equal(t, "1", q.Get("only_flat"))
	assert.Equal(t, "creation_date_desc", q.Get("sort"))
	assert.Equal(t, "1", q.Get("p"))
	assert.False(t, q.Has("owner"))
}

func TestQueryBuilderDistrictsAndOwner(t *testing.T) {
	b := NewQueryBuilder("https://www.cian.ru/cat.php", nil)

	raw, err := b.Build(filter.Filter{
		Districts: []string{"СЗАО", "ЦАО", "НАО"},
		OwnerOnly: true,
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "1", q.Get("owner"))
	assert.Equal(t, "1", q.Get("okrug[8]"))
	assert.Equal(t, "1", q.Get("okrug[16]"))

	okrugs := 0
	for key := range q {
		if len(key) > 5 && key[:5] == "okrug" {
			okrugs++
		}
	}
	assert.Equal(t, 2, okrugs, "unknown district codes are not sent")
}

func TestQueryBuilderIsStable(t *testing.T) {
	b := NewQueryBuilder("https://www.cian.ru/cat.php", nil)

	a, err := b.Build(filter.Filter{Districts: []string{"ЗАО", "ЦАО"}})
	require.NoError(t, err)
	c, err := b.Build(filter.Filter{Districts: []string{"ЦАО", "ЗАО"}})
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestQueryBuilderInvalidURL(t *testing.T) {
	b := NewQueryBuilder("://bad", nil)
	_, err := b.Build(filter.Filter{})
	assert.Error(t, err)
}
