package processor

// ExampleCategory groups sample questions for the UI
type ExampleCategory struct {
	Name      string   `json:"name"`
	Questions []string `json:"questions"`
}

var exampleCategories = []ExampleCategory{
	{Name: "basic_analytics", Questions: []string{
		"What is my total sales?",
		"How much did I spend on advertising?",
		"How many products are in my catalog?",
	}},
	{Name: "performance_metrics", Questions: []string{
		"Calculate the Return on Ad Spend (ROAS)",
		"Which product had the highest CPC (Cost Per Click)?",
		"What's the conversion rate by product?",
		"Calculate the click-through rate for each product",
	}},
	{Name: "top_performers", Questions: []string{
		"Show me the top 10 products by revenue",
		"Which products have the best ROAS?",
		"What are the top 5 products by ad sales?",
		"Which products get the most impressions?",
	}},
	{Name: "trend_analysis", Questions: []string{
		"Show me sales trends over time",
		"How has my ad spend changed monthly?",
		"What's the trend in my ROAS performance?",
	}},
	{Name: "product_insights", Questions: []string{
		"Show me products with zero sales",
		"Which products are not eligible for advertising?",
		"What's the average order value by product?",
		"Compare ad sales vs total sales by product",
	}},
}

// Examples is the payload of the examples endpoint
type Examples struct {
	Examples      map[string][]string `json:"examples"`
	TotalExamples int                 `json:"total_examples"`
	Categories    []string            `json:"categories"`
}

// ExampleQuestions returns the categorized sample questions
func ExampleQuestions() Examples {
	out := Examples{
		Examples:   make(map[string][]string, len(exampleCategories)),
		Categories: make([]string, 0, len(exampleCategories)),
	}
	for _, c := range exampleCategories {
		questions := make([]string, len(c.Questions))
		copy(questions, c.Questions)
		out.Examples[c.Name] = questions
		out.Categories = append(out.Categories, c.Name)
		out.TotalExamples += len(questions)
	}
	return out
}
