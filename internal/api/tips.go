package api

import (
	"math/rand"

	"github.com/fortunelab/fortune-gateway/internal/services/request"

	"github.com/gofiber/fiber/v2"
)

// rotatingTips is the pool of daily suggestion texts served by GetTip.
var rotatingTips = []string{
	"办公桌东南方摆绿植",
	"手机壁纸换成蓝色系",
	"给久未联系的朋友发条问候",
	"午餐加一份绿色蔬菜",
	"整理钱包，清理过期票据",
	"佩戴银饰增强气场",
	"记录今日灵感笔记",
	"睡前听15分钟轻音乐",
	"检查手机app权限设置",
	"对镜子微笑三次",
	"写下一句今日感恩的话",
}

// TipsHandler serves the rotating daily tip endpoint.
type TipsHandler struct {
	reqSvc *request.BaseService
}

// NewTipsHandler creates a new tips handler.
func NewTipsHandler(reqSvc *request.BaseService) *TipsHandler {
	return &TipsHandler{reqSvc: reqSvc}
}

// GetTip returns one randomly chosen tip.
func (h *TipsHandler) GetTip(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"username":  "zhaoolee",
		"randomTip": rotatingTips[rand.Intn(len(rotatingTips))],
	})
}
