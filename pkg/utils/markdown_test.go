package utils

import "testing"

func TestCleanForTTS(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "code block replaced",
			in:   "前面\n```go\nfmt.Println(1)\n```\n后面",
			want: "前面 代码块 后面",
		},
		{
			name: "inline code unwrapped",
			in:   "执行 `go test` 即可",
			want: "执行 go test 即可",
		},
		{
			name: "emphasis stripped",
			in:   "**加粗** 和 *斜体* 以及 __粗__ 和 _斜_",
			want: "加粗 和 斜体 以及 粗 和 斜",
		},
		{
			name: "image replaced link unwrapped",
			in:   "看这张 ![示意图](https://a.example/x.png) 和 [文档](https://a.example/doc)",
			want: "看这张 图片 和 文档",
		},
		{
			name: "headings quotes lists removed",
			in:   "# 标题\n> 引用内容\n- 第一项\n2. 第二项",
			want: "标题 引用内容 第一项 第二项",
		},
		{
			name: "rule and table pipes removed",
			in:   "上文\n---\n列A|列B",
			want: "上文 列A 列B",
		},
		{
			name: "html tags removed",
			in:   "<p>段落</p><br>结束",
			want: "段落结束",
		},
		{
			name: "whitespace only",
			in:   "   \n\t ",
			want: "",
		},
		{
			name: "markdown only falls back",
			in:   "***",
			want: "内容无法转换为语音",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := CleanForTTS(c.in); got != c.want {
				t.Fatalf("expected %q, got %q", c.want, got)
			}
		})
	}
}
