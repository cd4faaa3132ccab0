package leetcode

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

const recentAcSubmissionsQuery = `
query recentAcSubmissions($username: String!, $limit: Int!) {
  recentAcSubmissionList(username: $username, limit: $limit) {
    id
    title
    titleSlug
    timestamp
    statusDisplay
    lang
    runtime
    memory
  }
}`

const questionDataQuery = `
query questionData($titleSlug: String!) {
  question(titleSlug: $titleSlug) {
    questionId
    title
    titleSlug
    difficulty
    topicTags {
      name
      slug
    }
  }
}`

const submissionDetailsQuery = `
query submissionDetails($submissionId: Int!) {
  submissionDetails(submissionId: $submissionId) {
    code
    timestamp
    statusCode
    runtimeDisplay
    memoryDisplay
    lang {
      name
      verboseName
    }
    question {
      questionId
      title
      titleSlug
      difficulty
      topicTags {
        name
        slug
      }
    }
    user {
      username
    }
  }
}`

const userProfileQuery = `
query userProfile($username: String!) {
  matchedUser(username: $username) {
    username
    submitStatsGlobal {
      acSubmissionNum {
        difficulty
        count
        submissions
      }
      totalSubmissionNum {
        difficulty
        count
        submissions
      }
    }
  }
}`

func init() {
	// 定義済みクエリは起動時に構文を検証する
	for _, q := range []string{recentAcSubmissionsQuery, questionDataQuery, submissionDetailsQuery, userProfileQuery} {
		if _, err := OperationName(q); err != nil {
			panic(err)
		}
	}
}

// OperationName はGraphQLクエリ文書を構文解析し、最初の操作の名前を返す。
// 無名の操作の場合は "anonymous" を返す。
func OperationName(query string) (string, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "query", Input: query})
	if err != nil {
		return "", fmt.Errorf("GraphQLクエリの構文解析に失敗しました: %w", err)
	}
	if len(doc.Operations) == 0 {
		return "", fmt.Errorf("GraphQLクエリに操作が含まれていません")
	}

	op := doc.Operations[0]
	if op.Operation != ast.Query {
		return "", fmt.Errorf("クエリ以外の操作は送信できません: %s", op.Operation)
	}
	if op.Name == "" {
		return "anonymous", nil
	}
	return op.Name, nil
}
