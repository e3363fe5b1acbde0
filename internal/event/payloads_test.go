package event

const issueOpenPayload = `{
  "object_kind": "issue",
  "user": {"name": "User Name", "username": "username"},
  "project": {
    "id": 7,
    "name": "project_name",
    "path_with_namespace": "group/project_name",
    "web_url": "somewhere.com",
    "default_branch": "main"
  },
  "object_attributes": {
    "id": 10,
    "iid": 100,
    "title": "Issue title",
    "assignee_id": 1,
    "url": "url",
    "action": "open",
    "state": "opened",
    "description": "issue description"
  }
}`

const issueMissingIIDPayload = `{
  "object_kind": "issue",
  "user": {"username": "username"},
  "project": {"name": "project_name", "web_url": "somewhere.com"},
  "object_attributes": {
    "id": 10,
    "title": "Issue title",
    "url": "url",
    "action": "open",
    "state": "opened",
    "description": "issue description"
  }
}`

const mergeRequestPayload = `{
  "object_kind": "merge_request",
  "user": {"name": "Jane Doe", "username": "jane"},
  "project": {"id": 7, "name": "api", "web_url": "https://gitlab.example.com/group/api/"},
  "object_attributes": {
    "id": 99,
    "iid": 12,
    "title": "Add retries",
    "url": "https://gitlab.example.com/group/api/-/merge_requests/12",
    "description": "Retries transient failures.",
    "action": "merge",
    "state": "merged",
    "source_branch": "retries",
    "target_branch": "main"
  }
}`

const pushPayload = `{
  "object_kind": "push",
  "before": "95790bf891e76fee5e1747ab589903a6a1f80f22",
  "after": "da1560886d4f094c3e6c9ef40349f7d38b5d27d7",
  "ref": "refs/heads/main",
  "checkout_sha": "da1560886d4f094c3e6c9ef40349f7d38b5d27d7",
  "user_name": "John Smith",
  "user_username": "jsmith",
  "project_id": 15,
  "project": {"id": 15, "name": "Diaspora", "web_url": "http://example.com/mike/diaspora"},
  "commits": [
    {
      "id": "b6568db1bc1dcd7f8b4d5a946b0b91f9dacd7327",
      "message": "Update Catalan translation to e38cb41.\n\nSee merge request !1",
      "url": "http://example.com/mike/diaspora/commit/b6568db1bc1dcd7f8b4d5a946b0b91f9dacd7327",
      "author": {"name": "Jordi Mallach", "email": "jordi@softcatala.org"}
    },
    {
      "id": "da1560886d4f094c3e6c9ef40349f7d38b5d27d7",
      "message": "fixed readme",
      "url": "http://example.com/mike/diaspora/commit/da1560886d4f094c3e6c9ef40349f7d38b5d27d7",
      "author": {"name": "GitLab dev user", "email": "gitlabdev@dv6700.(none)"}
    }
  ],
  "total_commits_count": 4
}`

const tagPushPayload = `{
  "object_kind": "tag_push",
  "before": "0000000000000000000000000000000000000000",
  "after": "82b3d5ae55f7080f1e6022629cdb57bfae7cccc7",
  "ref": "refs/tags/v1.0.0",
  "user_name": "John Smith",
  "user_username": "jsmith",
  "project": {"id": 1, "name": "Example", "web_url": "http://example.com/jsmith/example"}
}`

const noteOnCommitPayload = `{
  "object_kind": "note",
  "user": {"name": "Administrator", "username": "root"},
  "project": {"id": 5, "name": "Gitlab Test", "web_url": "http://example.com/gitlabhq/gitlab-test"},
  "object_attributes": {
    "id": 1243,
    "note": "This is a commit comment. How does this work?",
    "noteable_type": "Commit",
    "url": "http://example.com/gitlab-org/gitlab-test/commit/cfe32cf61b73a0d5e9f13e774abde7ff789b1660#note_1243"
  },
  "commit": {
    "id": "cfe32cf61b73a0d5e9f13e774abde7ff789b1660",
    "message": "Add submodule\n\nSigned-off-by: Example User <user@example.com>"
  }
}`

const noteOnSnippetPayload = `{
  "object_kind": "note",
  "user": {"username": "root"},
  "project": {"name": "Gitlab Test", "web_url": "http://example.com/gitlabhq/gitlab-test"},
  "object_attributes": {
    "note": "Is this snippet doing what it's supposed to be doing?",
    "noteable_type": "Snippet",
    "url": "http://example.com/gitlab-org/gitlab-test/snippets/53#note_1245"
  },
  "snippet": {"id": 53, "title": "test"}
}`

const pipelinePayload = `{
  "object_kind": "pipeline",
  "object_attributes": {
    "id": 31,
    "ref": "master",
    "tag": false,
    "sha": "bcbb5ec396a2c0f828686f14fac9b80b780504f2",
    "status": "failed",
    "stages": ["build", "test", "deploy"],
    "duration": 63
  },
  "user": {"name": "Administrator", "username": "root"},
  "project": {"id": 1, "name": "Gitlab Test", "web_url": "http://192.168.64.1:3005/gitlab-org/gitlab-test"},
  "builds": [
    {"id": 380, "stage": "deploy", "name": "production", "status": "skipped"},
    {"id": 377, "stage": "test", "name": "test-image", "status": "failed"},
    {"id": 378, "stage": "test", "name": "test-build", "status": "failed"},
    {"id": 376, "stage": "build", "name": "build-image", "status": "success"}
  ]
}`
