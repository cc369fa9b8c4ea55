// Package pipeline 串联意图解析、校验、会话上下文与工作流预览。
//
// Service.Build 是 HTTP 层的唯一入口：任何结构性失败都以带错误码的 error 返回，
// 数据源层面的缺失只体现在预览结果中。
package pipeline
