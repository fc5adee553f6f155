// Package agent 实现模型与能力之间的路由循环。每条入站消息开启一个
// 独立回合: 模型不给工具调用则回合结束; 首个调用是提案类能力时走旁路,
// 提案直达会话且不再回流模型; 其余调用执行后把结果交还模型继续推理,
// 直到收敛或达到轮数上限。
package agent
