package prompt

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/fortunelab/fortune-gateway/internal/models"
)

// SystemPrompt seeds every fortune conversation.
const SystemPrompt = "You are an insightful fortune teller."

// availableDecor is the pool the daily desk decoration shortlist is drawn from.
var availableDecor = []string{
	"水晶洞", "金蟾", "貔貅", "文昌塔", "关公像",
	"龙龟", "葫芦", "福禄寿三星", "五帝钱", "大象",
}

// BuildFortunePrompt renders the user prompt for a daily reading. The desk
// decoration shortlist is randomized, which is why identical requests are
// deduplicated by fingerprint upstream rather than re-prompted.
func BuildFortunePrompt(user *models.FortuneUser, now time.Time) string {
	decor := randomDecor(3)
	currentDate := now.Format("2006-01-02")

	gender := "女性"
	if user.Gender == "male" {
		gender = "男性"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `
    我是%s，出生信息如下：
    - 出生日期：%s (阳历)
    - 出生时间：%s
    - 性别：%s

    今天的日期是：%s

    目前可用的摆件列表: %s

    请给我一个100字左右的谶语小诗, 小诗对仗工整，需要包含以下内容:
    架空的世界，玄妙的情节，不可说破的寓意；如果需要解谶语小故事，语气像街头算命的道长，不要完全说破，给用户留有想象空间

    请根据我的八字流年和塔罗牌，推算出今天的运势，分析内容包括以下几个方面：
    1. 事业与工作
    2. 财运
    3. 感情与人际
    4. 健康
    5. 幸运色
    6. 摆件

    最后根据已输出内容内容, 总结12到20条tips, tips用于长时间轮播提示给用户，请尽可能涵盖已输出内容的重点信息

    输出文本时可以使用一些Emoji来增加趣味性，但不要过多，可以参考100个字一个Emoji

    请按照以下格式输出：

    ## 📜今天给%s的谶语

    <div class="fortune-story">
      <div class="fortune-story-item">{谶语小诗语句}</div>
      <div class="fortune-story-item">{谶语小诗语句}</div>
      <div class="fortune-story-item">{谶语小诗语句}</div>
      <div class="fortune-story-item">{谶语小诗语句}</div>
      <div class="fortune-story-item">{谶语小诗语句}</div>
      <div class="fortune-story-item">{谶语小诗语句}</div>
      <div class="fortune-story-item">{谶语小诗语句}</div>
      <div class="fortune-story-item">{谶语小诗语句}</div>
    </div>

    ## 🍀八字与流年分析 %s今日%s具体运势分析：
    - 事业与工作：
    - 财运：
    - 感情与人际：
    - 健康：

    ## 🍭幸运色分析

    <div class="lucky-color" style="color: {颜色值}">{颜色描述信息}</div>

    ## 🔢今日幸运数字

    <div class="lucky-number">{数字描述信息}</div>

    ## 💬基于以上分析,今日适合交流的人物:

    1.
    2.
    3.

    ## 💏今天脱单适合去哪里

    <div class="dating-place">{地点描述信息}</div>
    <div class="dating-place">{地点描述信息}</div>
    <div class="dating-place">{地点描述信息}</div>

    ## 🤠今天适合去哪里玩

    <div class="play-place">{地点描述信息}</div>
    <div class="play-place">{地点描述信息}</div>
    <div class="play-place">{地点描述信息}</div>

    ## 🍽️为了长寿,今天适合吃什么

    <div class="food">{食物描述信息}</div>
    <div class="food">{食物描述信息}</div>
    <div class="food">{食物描述信息}</div>

    ## 🗓️传统黄历

    <div class="fortune-yi">宜：{宜}</div>
    <div class="fortune-ji">忌：{忌}</div>
    <div class="fortune-cai">财神方位：{财神方位}</div>
    <div class="fortune-xi">喜神方位：{喜神方位}</div>
    <div class="fortune-fu">福神方位：{福神方位}</div>

    ## 🪆基于以上分析, 今天适合在桌面摆放的一个摆件为{摆件名}:
     <img class="desk-decor" src="/api/random-desk-decor?keyword={摆件名}" />

    ## 💡解谶语小故事

    <div class="fortune-story-explanation">{谶语小故事解释}</div>

    ## 🎯总结

    ## 基于以上内容, 总结今日tips信息:

    <div class="fortune-tip">{tip信息}</div>
  `,
		user.Username,
		user.BirthDate,
		user.BirthTime,
		gender,
		currentDate,
		strings.Join(decor, ","),
		user.Username,
		user.Username,
		currentDate,
	)
	return b.String()
}

// PrimingTurns builds the hidden system/user turns that seed a conversation.
func PrimingTurns(user *models.FortuneUser, now time.Time) []models.Turn {
	return []models.Turn{
		{Role: models.RoleSystem, Content: SystemPrompt},
		{Role: models.RoleUser, Content: BuildFortunePrompt(user, now)},
	}
}

func randomDecor(n int) []string {
	shuffled := make([]string, len(availableDecor))
	copy(shuffled, availableDecor)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}
