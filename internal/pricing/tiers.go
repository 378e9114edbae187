package pricing

import (
	"time"

	"github.com/google/uuid"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

// Item categories used on quotes.
const (
	CategoryMainEquipment = "主要設備"
	CategoryWorkstation   = "工作站"
	CategoryEOAT          = "EOAT與治具"
	CategorySafety        = "安全設備"
	CategoryIntegration   = "整合工程"
	CategoryInstallation  = "安裝與訓練"
)

// tier describes what a plan code proposes before requirements are applied.
type tier struct {
	Code        models.PlanCode
	Name        string
	Robots      int
	RobotType   string
	FlipStation bool
	Vision      bool
	Scheduler   bool
}

var tiers = []tier{
	{Code: models.PlanP1, Name: "方案一：雙機器人 + 翻轉站", Robots: 2, RobotType: "articulated_6dof", FlipStation: true},
	{Code: models.PlanP2, Name: "方案二：單機器人 + 翻轉站 + 排程系統", Robots: 1, RobotType: "articulated_6dof", FlipStation: true, Scheduler: true},
	{Code: models.PlanP3, Name: "方案三：龍門式 + 研磨機器人 + 視覺系統", Robots: 1, RobotType: "gantry", Vision: true},
}

// applyRequirements adjusts a tier to the extracted requirements:
// options.robot_count sets the robot count of the multi-robot tier and
// process.needs_flip=false drops the flip station.
func (t tier) applyRequirements(data map[string]interface{}) tier {
	if t.Code == models.PlanP1 {
		if n, ok := positiveInt(data, "options.robot_count"); ok {
			t.Robots = n
		}
	}
	if flip, ok := models.Lookup(data, "process.needs_flip"); ok {
		if b, isBool := flip.(bool); isBool && !b {
			t.FlipStation = false
		}
	}
	return t
}

func (t tier) assumptions() map[string]interface{} {
	return map[string]interface{}{
		"robots":       t.Robots,
		"robot_type":   t.RobotType,
		"flip_station": t.FlipStation,
		"vision":       t.Vision,
		"scheduler":    t.Scheduler,
	}
}

// buildPlan prices a tier against the catalog. Catalog entries that are
// missing are skipped.
func (t tier) buildPlan(cat *Catalog, caseID, runID string, now time.Time) *models.Plan {
	p := &models.Plan{
		ID:          uuid.New().String(),
		CaseID:      caseID,
		RunID:       &runID,
		Code:        t.Code,
		Name:        t.Name,
		Assumptions: t.assumptions(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	add := func(category, key string, qty float64) {
		it, ok := cat.Item(key)
		if !ok {
			return
		}
		spec := it.DefaultSpec
		item := models.QuoteItem{
			ID:            uuid.New().String(),
			PlanID:        p.ID,
			Position:      len(p.Items),
			Category:      category,
			ItemName:      it.Name,
			Spec:          &spec,
			Qty:           qty,
			Unit:          it.Unit,
			UnitPriceLow:  it.Low,
			UnitPriceHigh: it.High,
		}
		item.Recompute()
		p.Items = append(p.Items, item)
	}

	// one line per robot so each can be re-specified independently
	for i := 0; i < t.Robots; i++ {
		add(CategoryMainEquipment, "robot_"+t.RobotType, 1)
	}
	if t.FlipStation {
		add(CategoryWorkstation, "flip_station", 1)
	}
	if t.Vision {
		add(CategoryMainEquipment, "vision_system", 1)
	}
	add(CategoryEOAT, "eoat_gripper", float64(t.Robots))
	add(CategorySafety, "safety_fence", 1)
	add(CategoryIntegration, "integration_engineering", 1)
	add(CategoryInstallation, "installation_training", 1)
	return p
}

func positiveInt(data map[string]interface{}, path string) (int, bool) {
	v, ok := models.Lookup(data, path)
	if !ok {
		return 0, false
	}
	var n int
	switch t := v.(type) {
	case float64:
		n = int(t)
	case int:
		n = t
	case int64:
		n = int(t)
	default:
		return 0, false
	}
	if n <= 0 || n > 20 {
		return 0, false
	}
	return n, true
}
