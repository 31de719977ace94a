// Copyright (c) interiorflow Authors.
// Licensed under the MIT License.

/*
包 orchestrator 是生成核心的对外门面：准入检查、延迟条件图、提示词组合，
最后交给引擎回退链。

# 流程

	Generate → admission.Check → ApplyDefaults → conditioning.Lazy
	         → prompt.Compose → selector.Generate

准入拒绝时直接返回 ADMISSION_REJECTED，不触碰任何引擎。条件图只在
支持条件图的引擎被实际尝试时计算，且每个请求最多计算一次。门面本身不做
额外重试。
*/
package orchestrator
