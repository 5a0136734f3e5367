package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/langchou/evreceipts/internal/models"
	"github.com/langchou/evreceipts/internal/normalize"
	"github.com/langchou/evreceipts/internal/repository"
	"github.com/langchou/evreceipts/pkg/ws"
)

// ErrUnsupportedFormat 不支持的导出格式
var ErrUnsupportedFormat = errors.New("unsupported export format")

// topN 汇总中排行的条数
const topN = 5

// Filter 记录查询条件，零值不过滤
type Filter struct {
	StartDate     *models.Date
	EndDate       *models.Date
	Provider      string
	ProviderExact bool
	Location      string
	Source        string
	MinCost       *float64
	MaxCost       *float64
	MinKWh        *float64
	MaxKWh        *float64
}

// Match 记录是否满足条件
func (f Filter) Match(rec *models.ChargingRecord) bool {
	fold := cases.Fold()

	if f.StartDate != nil && (rec.Date == nil || rec.Date.Before(f.StartDate.Time)) {
		return false
	}
	if f.EndDate != nil && (rec.Date == nil || rec.Date.After(f.EndDate.Time)) {
		return false
	}
	if f.Provider != "" && !strings.EqualFold(f.Provider, "all") {
		want, got := fold.String(f.Provider), fold.String(string(rec.Provider))
		if f.ProviderExact && want != got {
			return false
		}
		if !f.ProviderExact && !strings.Contains(got, want) {
			return false
		}
	}
	if f.Location != "" && !strings.Contains(fold.String(rec.Location), fold.String(f.Location)) {
		return false
	}
	if f.Source != "" && !strings.EqualFold(f.Source, rec.Source) {
		return false
	}
	if !inRange(rec.TotalCost, f.MinCost, f.MaxCost) {
		return false
	}
	return inRange(rec.TotalKWh, f.MinKWh, f.MaxKWh)
}

func inRange(v, min, max *float64) bool {
	if min == nil && max == nil {
		return true
	}
	if v == nil {
		return false
	}
	if min != nil && *v < *min {
		return false
	}
	return max == nil || *v <= *max
}

// RecordService 记录查询与维护
type RecordService struct {
	logger    *zap.Logger
	coll      *Collections
	publisher Publisher
	now       func() time.Time
}

// NewRecordService 创建记录服务
func NewRecordService(logger *zap.Logger, coll *Collections, publisher Publisher) *RecordService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &RecordService{
		logger:    logger,
		coll:      coll,
		publisher: publisher,
		now:       time.Now,
	}
}

// List 按条件列出记录，保持存储顺序
func (s *RecordService) List(ctx context.Context, user string, f Filter) ([]*models.ChargingRecord, error) {
	records, err := s.coll.Load(ctx, s.coll.Key(user))
	if err != nil {
		return nil, err
	}
	out := make([]*models.ChargingRecord, 0, len(records))
	for _, rec := range records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Get 按 ID 获取记录
func (s *RecordService) Get(ctx context.Context, user, id string) (*models.ChargingRecord, error) {
	records, err := s.coll.Load(ctx, s.coll.Key(user))
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("record %s: %w", id, repository.ErrNotFound)
}

// DeleteRecords 按 ID 删除，返回删除数量
func (s *RecordService) DeleteRecords(ctx context.Context, user string, ids []string) (int, error) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	key := s.coll.Key(user)
	deleted := 0
	err := s.coll.Update(ctx, key, func(records []*models.ChargingRecord) ([]*models.ChargingRecord, bool, error) {
		kept := records[:0:0]
		for _, rec := range records {
			if _, ok := drop[rec.ID]; ok {
				deleted++
				continue
			}
			kept = append(kept, rec)
		}
		return kept, deleted > 0, nil
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("Deleted charging records", zap.String("user", key), zap.Int("count", deleted))
		s.publisher.BroadcastMessage(ws.MsgTypeRecordsDeleted, map[string]interface{}{
			"user":    key,
			"deleted": deleted,
		})
	}
	return deleted, nil
}

// DeleteUser 删除用户全部记录
func (s *RecordService) DeleteUser(ctx context.Context, user string) (bool, error) {
	key := s.coll.Key(user)
	existed, err := s.coll.Drop(ctx, key)
	if err != nil {
		return false, err
	}
	if existed {
		s.logger.Info("Deleted user collection", zap.String("user", key))
		s.publisher.BroadcastMessage(ws.MsgTypeRecordsDeleted, map[string]interface{}{
			"user": key,
			"all":  true,
		})
	}
	return existed, nil
}

// Users 列出全部用户
func (s *RecordService) Users(ctx context.Context) ([]string, error) {
	return s.coll.Users(ctx)
}

// Summary 汇总统计，基于批量清洗后的数据；没有记录时返回 nil
func (s *RecordService) Summary(ctx context.Context, user string) (*models.Summary, error) {
	records, err := s.coll.Load(ctx, s.coll.Key(user))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return Summarize(normalize.Clean(records, s.now())), nil
}

// Summarize 计算汇总
func Summarize(records []*models.ChargingRecord) *models.Summary {
	sum := &models.Summary{RecordCount: len(records)}
	byProvider := map[models.Provider]float64{}
	byLocation := map[string]float64{}

	var first, last *models.Date
	for _, rec := range records {
		kwh := models.Value(rec.TotalKWh)
		sum.TotalEnergyKWh += kwh
		sum.TotalCost += models.Value(rec.TotalCost)
		byProvider[rec.Provider] += kwh
		if rec.Location != "" {
			byLocation[rec.Location] += kwh
		}
		if rec.Date != nil {
			if first == nil || rec.Date.Before(first.Time) {
				first = rec.Date
			}
			if last == nil || rec.Date.After(last.Time) {
				last = rec.Date
			}
		}
	}

	sum.Providers = len(byProvider)
	sum.Locations = len(byLocation)
	if sum.TotalEnergyKWh > 0 {
		sum.AvgCostPerKWh = sum.TotalCost / sum.TotalEnergyKWh
	}
	if first != nil {
		sum.DateRange = &models.DateRange{FirstDate: first.String(), LastDate: last.String()}
	}

	sum.TopProviders = make([]models.ProviderTotal, 0, len(byProvider))
	for p, kwh := range byProvider {
		sum.TopProviders = append(sum.TopProviders, models.ProviderTotal{Provider: p, TotalKWh: kwh})
	}
	sort.Slice(sum.TopProviders, func(i, j int) bool {
		a, b := sum.TopProviders[i], sum.TopProviders[j]
		if a.TotalKWh != b.TotalKWh {
			return a.TotalKWh > b.TotalKWh
		}
		return a.Provider < b.Provider
	})
	if len(sum.TopProviders) > topN {
		sum.TopProviders = sum.TopProviders[:topN]
	}

	sum.TopLocations = make([]models.LocationTotal, 0, len(byLocation))
	for l, kwh := range byLocation {
		sum.TopLocations = append(sum.TopLocations, models.LocationTotal{Location: l, TotalKWh: kwh})
	}
	sort.Slice(sum.TopLocations, func(i, j int) bool {
		a, b := sum.TopLocations[i], sum.TopLocations[j]
		if a.TotalKWh != b.TotalKWh {
			return a.TotalKWh > b.TotalKWh
		}
		return a.Location < b.Location
	})
	if len(sum.TopLocations) > topN {
		sum.TopLocations = sum.TopLocations[:topN]
	}
	return sum
}

// Statistics 月度统计，按月份升序
func (s *RecordService) Statistics(ctx context.Context, user string) ([]models.MonthlyStat, error) {
	records, err := s.coll.Load(ctx, s.coll.Key(user))
	if err != nil {
		return nil, err
	}
	return Monthly(normalize.Clean(records, s.now())), nil
}

// Monthly 按月聚合
func Monthly(records []*models.ChargingRecord) []models.MonthlyStat {
	byMonth := map[string]*models.MonthlyStat{}
	for _, rec := range records {
		if rec.Date == nil {
			continue
		}
		month := rec.Date.Format("2006-01")
		st, ok := byMonth[month]
		if !ok {
			st = &models.MonthlyStat{Month: month}
			byMonth[month] = st
		}
		st.Sessions++
		st.TotalKWh += models.Value(rec.TotalKWh)
		st.TotalCost += models.Value(rec.TotalCost)
	}

	stats := make([]models.MonthlyStat, 0, len(byMonth))
	for _, st := range byMonth {
		if st.TotalKWh > 0 {
			st.CostPerKWh = st.TotalCost / st.TotalKWh
		}
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Month < stats[j].Month })
	return stats
}
