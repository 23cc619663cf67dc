package session

import (
	"fmt"
	"time"
)

// User-facing texts. The deployment targets a Chinese-language channel, so
// prompts stay in Chinese while logs and code remain English.
const (
	msgExpired        = "❌ 会话已过期，请重新发送 /start"
	msgInternalError  = "❌ 内部错误，请稍后再试"
	msgCancelled      = "❌ 投稿已取消"
	msgDebug          = "调试信息：收到你的消息！"
	msgChooseMode     = "📮 欢迎使用投稿机器人！请选择投稿类型：回复 “媒体投稿” 或 “文档投稿”"
	msgChooseModeBad  = "⚠️ 请选择有效的投稿类型：回复 “媒体投稿” 或 “文档投稿”"
	msgModeMediaSet   = "✅ 已选择媒体投稿模式"
	msgModeDocSet     = "✅ 已选择文档投稿模式"
	msgUnsupportedDoc = "⚠️ 不支持的文件类型，请发送支持的媒体"
	msgWantMedia      = "请发送支持的媒体文件，或发送 /done_media 完成上传"
	msgWantMediaSkip  = "请发送支持的媒体文件，或发送 /done_media 完成上传，或发送 /skip_media 跳过媒体上传"
	msgWantDoc        = "请发送文档文件，或发送 /done_doc 完成上传"
	msgNeedMedia      = "⚠️ 请至少发送一个媒体文件"
	msgNeedDoc        = "⚠️ 请至少上传一个文档文件"
	msgMediaRequired  = "⚠️ 在媒体投稿模式下，媒体文件是必选项。请上传至少一个媒体文件。"
	msgAskTags        = "✅ 接收完成，请发送标签（必选，用逗号分隔，例如：明日方舟，原神）"
	msgBadTags        = "❌ 标签格式错误，请重新输入（用逗号分隔）"
	msgAskLink        = "✅ 标签已保存，请发送链接（可选，不需要请回复 “无” 或发送 /skip_optional 跳过后面的所有可选项。需填写请以 http:// 或 https:// 开头）"
	msgBadLink        = "⚠️ 链接格式不正确，请以 http:// 或 https:// 开头，或回复“无”跳过"
	msgAskTitle       = "✅ 链接已保存，请发送标题（可选，不需要请回复 “无” 或发送 /skip_optional 跳过后面的所有可选项）"
	msgAskNote        = "✅ 标题已保存，请发送简介（可选，不需要请回复 “无” 或发送 /skip_optional 跳过后面的所有可选项）"
	msgAskSpoiler     = "请问是否将所有媒体设为剧透（点击查看）？回复 “否” 或 “是”"
	msgPublishing     = "✅ 剧透选择已保存，正在发布投稿……"
	msgPublishFailed  = "❌ 内容发送失败，请稍后再试"
	msgNothingToSend  = "❌ 未检测到任何上传文件，请重新发送 /start"
	msgNotifyWarning  = "⚠️ 已发布，但通知管理员失败"

	// noneToken normalizes an optional field to empty.
	noneToken = "无"
	// affirmativeToken is the only input that sets the spoiler flag; any
	// other reply is treated as negative.
	affirmativeToken = "是"
)

const welcomeMedia = "📮 欢迎使用媒体投稿功能！请按照以下步骤提交：\n\n" +
	"1️⃣ 发送媒体文件（必选）：\n" +
	"   - 支持图片、视频、GIF、音频等，最多上传50个文件。\n" +
	"   - 上传完毕后，请发送 /done_media。\n\n" +
	"2️⃣ 发送标签（必选）：\n" +
	"   - 用逗号分隔（例如：明日方舟，原神）。\n\n" +
	"3️⃣ 发送链接（可选）：\n" +
	"   - 如需附加链接，请确保以 http:// 或 https:// 开头；不需要请回复 \"无\" 或发送 /skip_optional 跳过后面的所有可选项。\n\n" +
	"4️⃣ 发送标题（可选）：\n" +
	"   - 如不需要标题，请回复 \"无\" 或发送 /skip_optional 跳过后面的所有可选项。\n\n" +
	"5️⃣ 发送简介（可选）：\n" +
	"   - 如不需要简介，请回复 \"无\" 或发送 /skip_optional 跳过后面的所有可选项。\n\n" +
	"6️⃣ 是否将所有媒体设为剧透（点击查看）？\n" +
	"   - 请回复 \"否\" 或 \"是\"。\n\n" +
	"随时发送 /cancel 取消投稿。"

const welcomeDocument = "📮 欢迎使用文档投稿功能！请按照以下步骤提交：\n\n" +
	"1️⃣ 发送文档文件（必选）：\n" +
	"   - 支持各种文档格式（PDF、DOC、XLS、TXT等），至少上传1个文件，最多上传10个文件。\n" +
	"   - 上传完毕后，请发送 /done_doc。\n\n" +
	"2️⃣ 发送媒体文件（可选）：\n" +
	"   - 支持图片、视频、GIF、音频等，最多上传10个文件。\n" +
	"   - 上传完毕后，请发送 /done_media，或发送 /skip_media 跳过此步骤。\n\n" +
	"3️⃣ 发送标签（必选）：\n" +
	"   - 用逗号分隔（例如：教程，资料）。\n\n" +
	"4️⃣ 发送链接（可选）：\n" +
	"   - 如需附加链接，请确保以 http:// 或 https:// 开头；不需要请回复 \"无\" 或发送 /skip_optional 跳过后面的所有可选项。\n\n" +
	"5️⃣ 发送标题（可选）：\n" +
	"   - 如不需要标题，请回复 \"无\" 或发送 /skip_optional 跳过后面的所有可选项。\n\n" +
	"6️⃣ 发送简介（可选）：\n" +
	"   - 如不需要简介，请回复 \"无\" 或发送 /skip_optional 跳过后面的所有可选项。\n\n" +
	"7️⃣ 是否将内容设为剧透（点击查看）？\n" +
	"   - 请回复 \"否\" 或 \"是\"。\n\n" +
	"随时发送 /cancel 取消投稿。"

func msgMediaCount(n int, withSkipHint bool) string {
	if withSkipHint {
		return fmt.Sprintf("✅ 已接收媒体，共计 %d 个。\n继续发送媒体文件，或发送 /done_media 完成上传，或发送 /skip_media 跳过该步骤。", n)
	}
	return fmt.Sprintf("✅ 已接收媒体，共计 %d 个。\n继续发送媒体文件，或发送 /done_media 完成上传。", n)
}

func msgDocCount(n int) string {
	return fmt.Sprintf("✅ 已接收文档，共计 %d 个。\n继续发送文档文件，或发送 /done_doc 完成上传。", n)
}

func msgMediaCap(limit int) string {
	return fmt.Sprintf("⚠️ 已达到媒体上传上限（%d个）", limit)
}

func msgDocCap(limit int) string {
	return fmt.Sprintf("⚠️ 已达到文档上传上限（%d个）", limit)
}

func msgPublished(link string) string {
	if link == "" {
		return "🎉 投稿已成功发布到频道！"
	}
	return "🎉 投稿已成功发布到频道！\n点击以下链接查看投稿：\n" + link
}

func msgSkippedTo(skipped string) string {
	return "✅ " + skipped + "已跳过，" + msgAskSpoiler
}

func msgRateLimited(wait time.Duration) string {
	secs := int(wait / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("❌ 发送过于频繁，请等待 %d 秒后重试", secs)
}
