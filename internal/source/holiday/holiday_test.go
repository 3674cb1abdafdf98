package holiday

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockcrawler/internal/fetchgate"
	"github.com/JakeFAU/stockcrawler/internal/httpclient"
)

const schedule2024 = `{"stat":"ok","date":"20240101","queryYear":2024,"total":4,"data":[
["2024-01-01","中華民國開國紀念日","依規定放假1日。"],
["2024-01-02","國曆新年開始交易日","國曆新年開始交易。"],
["2024-02-08","市場無交易，僅辦理結算交割作業","農曆春節前"],
["bad-date","x","y"],
["2024-10-10"]
]}`

type recordingNotifier struct{ msgs []string }

func (r *recordingNotifier) Send(_ context.Context, msg string) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func newCalendar(t *testing.T, body string, hits *atomic.Int32) (*Calendar, *recordingNotifier) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "2024", r.URL.Query().Get("date"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	n := &recordingNotifier{}
	client := httpclient.New(httpclient.Config{}, fetchgate.New(1), nil)
	return New(client, ts.URL+"/holidaySchedule?date={year}&response=json&_={ts}", n, zap.NewNop()), n
}

func TestVisitFiltersRows(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	cal, _ := newCalendar(t, schedule2024, &hits)

	days, err := cal.Visit(context.Background(), 2024)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2024-01-01", days[0].Format(time.DateOnly))
	assert.Equal(t, "2024-02-08", days[1].Format(time.DateOnly))
}

func TestVisitBadStatNotifies(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	cal, n := newCalendar(t, `{"stat":"查詢日期大於今日，請重新查詢!","data":[]}`, &hits)

	days, err := cal.Visit(context.Background(), 2024)
	require.NoError(t, err)
	assert.Empty(t, days)
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0], "bad_status")

	cal2, n2 := newCalendar(t, `{"data":[]}`, &hits)
	_, err = cal2.Visit(context.Background(), 2024)
	require.NoError(t, err)
	require.Len(t, n2.msgs, 1)
	assert.Contains(t, n2.msgs[0], "malformed")
}

func TestIsHolidayCachesPerYear(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	cal, _ := newCalendar(t, schedule2024, &hits)
	ctx := context.Background()

	ok, err := cal.IsHoliday(ctx, time.Date(2024, 1, 1, 7, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cal.IsHoliday(ctx, time.Date(2024, 1, 2, 7, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(1), hits.Load())
}

func TestIsWeekend(t *testing.T) {
	t.Parallel()

	assert.True(t, IsWeekend(time.Date(2024, 7, 6, 7, 0, 0, 0, time.UTC)))
	assert.True(t, IsWeekend(time.Date(2024, 7, 7, 7, 0, 0, 0, time.UTC)))
	assert.False(t, IsWeekend(time.Date(2024, 7, 8, 7, 0, 0, 0, time.UTC)))
}
